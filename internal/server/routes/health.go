package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/db"
)

// HealthRoutes registers liveness endpoints.
type HealthRoutes struct {
	database *db.Database
}

// NewHealthRoutes constructs health endpoints.
func NewHealthRoutes(database *db.Database) *HealthRoutes {
	return &HealthRoutes{database: database}
}

// RegisterRoutes registers health endpoints.
func (h *HealthRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/healthz", h.handleHealthz)
	s.GET("/healthz/queries", h.handleQueryStats)
}

// handleQueryStats exposes per-query latency distributions for operators.
func (h *HealthRoutes) handleQueryStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.database.QueryLatencyStats())
}

func (h *HealthRoutes) handleHealthz(c echo.Context) error {
	if err := h.database.PingContext(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
