package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/syncer"
)

// SyncRoutes registers on-demand sync endpoints.
type SyncRoutes struct {
	orchestrator *syncer.Orchestrator
	auth         echo.MiddlewareFunc
}

// NewSyncRoutes constructs sync endpoints.
func NewSyncRoutes(orchestrator *syncer.Orchestrator, auth echo.MiddlewareFunc) *SyncRoutes {
	return &SyncRoutes{orchestrator: orchestrator, auth: auth}
}

// RegisterRoutes registers sync endpoints.
func (r *SyncRoutes) RegisterRoutes(s *echo.Echo) {
	api := s.Group("/api/v1", r.auth)

	api.POST("/sync", r.handleSync)
}

type syncRequest struct {
	Platform  string `json:"platform"`
	DateRange *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"dateRange"`
}

func (req syncRequest) dateRange() (*platform.DateRange, error) {
	if req.DateRange == nil {
		return nil, nil
	}
	start, err := time.Parse(time.DateOnly, req.DateRange.Start)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(time.DateOnly, req.DateRange.End)
	if err != nil {
		return nil, err
	}
	return &platform.DateRange{Start: start, End: end}, nil
}

// handleSync runs a sync for the tenant. With a platform in the body only that
// platform syncs; otherwise every active integration does, in parallel. The
// response always carries one result per attempted platform.
func (r *SyncRoutes) handleSync(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	dateRange, err := req.dateRange()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "dateRange must use YYYY-MM-DD dates")
	}

	ctx := c.Request().Context()
	if req.Platform != "" {
		p, err := platform.Parse(req.Platform)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		result := r.orchestrator.SyncPlatform(ctx, tenantID(c), p, dateRange)
		return c.JSON(http.StatusOK, []syncer.Result{result})
	}

	results, err := r.orchestrator.SyncTenant(ctx, tenantID(c), dateRange)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, results)
}
