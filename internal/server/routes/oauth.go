package routes

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/oauth"
)

// OAuthRoutes registers authorization flow endpoints. The callback is
// unauthenticated: the vendor redirects the tenant's browser there and the
// single-use state token is what ties it back to the tenant.
type OAuthRoutes struct {
	manager  *oauth.Manager
	auth     echo.MiddlewareFunc
	validate *validator.Validate
}

// NewOAuthRoutes constructs authorization flow endpoints.
func NewOAuthRoutes(manager *oauth.Manager, auth echo.MiddlewareFunc) *OAuthRoutes {
	return &OAuthRoutes{manager: manager, auth: auth, validate: validator.New()}
}

// RegisterRoutes registers authorization flow endpoints.
func (r *OAuthRoutes) RegisterRoutes(s *echo.Echo) {
	api := s.Group("/api/v1")

	api.POST("/integrations/:platform/oauth/start", r.handleStart, r.auth)
	api.GET("/oauth/callback", r.handleCallback)
}

type oauthStartRequest struct {
	RedirectURI string `json:"redirectUri" validate:"required,url"`
}

func (r *OAuthRoutes) handleStart(c echo.Context) error {
	p, err := pathPlatform(c)
	if err != nil {
		return err
	}
	var req oauthStartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := r.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	authURL, err := r.manager.Start(c.Request().Context(), tenantID(c), p, req.RedirectURI)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"authorizationUrl": authURL})
}

func (r *OAuthRoutes) handleCallback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code and state are required")
	}

	result, err := r.manager.HandleCallback(c.Request().Context(), code, state)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{
			"status":   result.State,
			"platform": result.Platform.String(),
		})
	case errors.Is(err, oauth.ErrStateInvalid):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, oauth.ErrStateExpired):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
