package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/integration"
	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

// IntegrationRoutes registers credential registry endpoints.
type IntegrationRoutes struct {
	registry *integration.Registry
	history  ports.SyncHistoryStore
	events   ports.WebhookEventStore
	auth     echo.MiddlewareFunc
	validate *validator.Validate
}

// NewIntegrationRoutes constructs integration endpoints.
func NewIntegrationRoutes(registry *integration.Registry, history ports.SyncHistoryStore, events ports.WebhookEventStore, auth echo.MiddlewareFunc) *IntegrationRoutes {
	return &IntegrationRoutes{
		registry: registry,
		history:  history,
		events:   events,
		auth:     auth,
		validate: validator.New(),
	}
}

// RegisterRoutes registers integration endpoints.
func (r *IntegrationRoutes) RegisterRoutes(s *echo.Echo) {
	api := s.Group("/api/v1", r.auth)

	api.POST("/integrations/:platform", r.handleUpsert)
	api.GET("/integrations", r.handleList)
	api.GET("/integrations/:platform", r.handleGet)
	api.DELETE("/integrations/:platform", r.handleDelete)
	api.GET("/sync/history", r.handleHistory)
	api.GET("/webhooks/events", r.handleWebhookEvents)
}

type upsertIntegrationRequest struct {
	Config               json.RawMessage `json:"config" validate:"required"`
	Active               *bool           `json:"active"`
	SyncFrequencyMinutes int             `json:"syncFrequencyMinutes" validate:"gte=0"`
}

// integrationView is the API shape of a stored integration. Credentials never
// appear here in any form.
type integrationView struct {
	Platform             platform.Platform `json:"platform"`
	Active               bool              `json:"active"`
	SyncFrequencyMinutes int               `json:"syncFrequencyMinutes,omitempty"`
	LastSyncAt           *time.Time        `json:"lastSyncAt,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

func viewOf(stored ports.Integration) integrationView {
	return integrationView{
		Platform:             stored.Platform,
		Active:               stored.Active,
		SyncFrequencyMinutes: int(stored.SyncFrequency / time.Minute),
		LastSyncAt:           stored.LastSyncAt,
		CreatedAt:            stored.CreatedAt,
		UpdatedAt:            stored.UpdatedAt,
	}
}

func (r *IntegrationRoutes) handleUpsert(c echo.Context) error {
	p, err := pathPlatform(c)
	if err != nil {
		return err
	}
	var req upsertIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := r.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg, err := platform.DecodeConfig(p, req.Config)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	stored, err := r.registry.Upsert(c.Request().Context(), integration.UpsertInput{
		TenantID:      tenantID(c),
		Platform:      p,
		Config:        cfg,
		Active:        active,
		SyncFrequency: time.Duration(req.SyncFrequencyMinutes) * time.Minute,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, viewOf(stored))
}

func (r *IntegrationRoutes) handleList(c echo.Context) error {
	active, err := r.registry.ListActive(c.Request().Context(), tenantID(c))
	if err != nil {
		return storeError(err)
	}
	views := make([]integrationView, 0, len(active))
	for _, stored := range active {
		views = append(views, viewOf(stored))
	}
	return c.JSON(http.StatusOK, views)
}

func (r *IntegrationRoutes) handleGet(c echo.Context) error {
	p, err := pathPlatform(c)
	if err != nil {
		return err
	}
	stored, _, err := r.registry.Get(c.Request().Context(), tenantID(c), p)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, viewOf(stored))
}

// handleDelete tombstones the integration; ?purge=true hard-deletes the row
// and its credentials.
func (r *IntegrationRoutes) handleDelete(c echo.Context) error {
	p, err := pathPlatform(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if c.QueryParam("purge") == "true" {
		if err := r.registry.Purge(ctx, tenantID(c), p); err != nil {
			return storeError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	if err := r.registry.MarkInactive(ctx, tenantID(c), p); err != nil {
		return storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type syncHistoryView struct {
	Platform     platform.Platform `json:"platform"`
	Status       string            `json:"status"`
	CampaignRows int               `json:"campaignRows"`
	InsightRows  int               `json:"insightRows"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
}

func (r *IntegrationRoutes) handleHistory(c echo.Context) error {
	records, err := r.history.ListSyncHistory(c.Request().Context(), tenantID(c), 100)
	if err != nil {
		return storeError(err)
	}
	views := make([]syncHistoryView, 0, len(records))
	for _, record := range records {
		views = append(views, syncHistoryView{
			Platform:     record.Platform,
			Status:       record.Status,
			CampaignRows: record.CampaignRows,
			InsightRows:  record.InsightRows,
			Error:        record.Error,
			StartedAt:    record.StartedAt,
			FinishedAt:   record.FinishedAt,
		})
	}
	return c.JSON(http.StatusOK, views)
}

type webhookEventView struct {
	ID         string            `json:"id"`
	Platform   platform.Platform `json:"platform"`
	Status     string            `json:"status"`
	Detail     string            `json:"detail,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

func (r *IntegrationRoutes) handleWebhookEvents(c echo.Context) error {
	events, err := r.events.ListWebhookEvents(c.Request().Context(), tenantID(c), 100)
	if err != nil {
		return storeError(err)
	}
	views := make([]webhookEventView, 0, len(events))
	for _, event := range events {
		views = append(views, webhookEventView{
			ID:         event.ID,
			Platform:   event.Platform,
			Status:     event.Status,
			Detail:     event.Detail,
			ReceivedAt: event.ReceivedAt,
		})
	}
	return c.JSON(http.StatusOK, views)
}
