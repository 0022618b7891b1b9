package routes

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/observability"
)

const tenantContextKey = "tenantID"

// TenantAuth validates the bearer token and stores the acting tenant on the
// request. Tokens are HMAC-signed with the shared API secret and carry the
// tenant in the "tenantId" claim.
func TenantAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, found := strings.CutPrefix(header, "Bearer ")
			raw = strings.TrimSpace(raw)
			if !found || raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			tenant, _ := claims["tenantId"].(string)
			tenant = strings.TrimSpace(tenant)
			if tenant == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token carries no tenant")
			}

			c.Set(tenantContextKey, tenant)
			ctx := observability.WithSyncIdentity(c.Request().Context(), tenant, "")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// tenantID returns the authenticated tenant for the request.
func tenantID(c echo.Context) string {
	value, _ := c.Get(tenantContextKey).(string)
	return value
}
