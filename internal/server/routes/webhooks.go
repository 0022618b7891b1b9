package routes

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/webhook"
)

// WebhookRoutes registers the inbound vendor webhook endpoint. Deliveries are
// unauthenticated at the HTTP layer; per-platform signature validation inside
// the pipeline is what establishes trust.
type WebhookRoutes struct {
	pipeline *webhook.Pipeline
}

// NewWebhookRoutes constructs webhook endpoints.
func NewWebhookRoutes(pipeline *webhook.Pipeline) *WebhookRoutes {
	return &WebhookRoutes{pipeline: pipeline}
}

// RegisterRoutes registers webhook endpoints.
func (w *WebhookRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/webhooks/:platform", w.handleDelivery)
}

// handleDelivery acknowledges with 200 once the raw event is stored, no matter
// how validation or reaction handling turns out. Vendors treat non-2xx as a
// retry signal; a bad signature is not a reason to be redelivered.
func (w *WebhookRoutes) handleDelivery(c echo.Context) error {
	p, err := pathPlatform(c)
	if err != nil {
		return err
	}
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}

	result, err := w.pipeline.Ingest(
		c.Request().Context(),
		p,
		c.QueryParam("tenant"),
		payload,
		signatureHeader(c, p),
	)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "event not stored")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"eventId": result.EventID,
		"status":  result.Status,
	})
}

// signatureHeader picks the vendor's signature header for the platform.
func signatureHeader(c echo.Context, p platform.Platform) string {
	h := c.Request().Header
	switch p {
	case platform.SocialAds:
		return h.Get("X-Hub-Signature-256")
	case platform.Messaging:
		return h.Get("X-Line-Signature")
	case platform.ShortVideoAds:
		return h.Get("X-TikTok-Signature")
	case platform.Marketplace:
		return h.Get("Authorization")
	default:
		return h.Get("X-Signature")
	}
}
