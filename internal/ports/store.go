package ports

import (
	"context"
	"errors"
	"time"

	"github.com/admesh/admesh/internal/platform"
)

// ErrNotFound indicates the requested row does not exist. Adapters translate
// their driver's not-found condition into this sentinel.
var ErrNotFound = errors.New("record not found")

// Integration is one tenant's connection to a platform. The credential blob is
// stored encrypted; only the integration registry sees plaintext.
type Integration struct {
	ID            int64
	TenantID      string
	Platform      platform.Platform
	Credentials   []byte
	Active        bool
	SyncFrequency time.Duration
	LastSyncAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertIntegrationInput carries the fields persisted on create or update.
// The (tenant, platform) pair is the authoritative key: a second create for the
// same pair updates in place.
type UpsertIntegrationInput struct {
	TenantID      string
	Platform      platform.Platform
	Credentials   []byte
	Active        bool
	SyncFrequency time.Duration
}

// IntegrationStore defines storage operations over tenant integrations.
// Backend-agnostic: the sqlite adapter implements it today.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, tenantID string, p platform.Platform) (Integration, error)
	ListActiveIntegrations(ctx context.Context, tenantID string) ([]Integration, error)
	ListActiveIntegrationsByPlatform(ctx context.Context, p platform.Platform) ([]Integration, error)
	ListDueIntegrations(ctx context.Context, now time.Time) ([]Integration, error)
	UpsertIntegration(ctx context.Context, input UpsertIntegrationInput) (Integration, error)
	UpdateIntegrationCredentials(ctx context.Context, tenantID string, p platform.Platform, credentials []byte) error
	SetIntegrationActive(ctx context.Context, tenantID string, p platform.Platform, active bool) error
	TouchIntegrationSync(ctx context.Context, tenantID string, p platform.Platform, at time.Time) error
	DeleteIntegration(ctx context.Context, tenantID string, p platform.Platform) error
}

// SyncHistory is one append-only record of a sync attempt. Rows are never
// updated or deleted.
type SyncHistory struct {
	ID           int64
	TenantID     string
	Platform     platform.Platform
	Status       string
	CampaignRows int
	InsightRows  int
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Sync attempt outcomes.
const (
	SyncStatusSuccess = "success"
	SyncStatusFailure = "failure"
)

// SyncHistoryStore appends and lists sync attempt records.
type SyncHistoryStore interface {
	AppendSyncHistory(ctx context.Context, record SyncHistory) error
	ListSyncHistory(ctx context.Context, tenantID string, limit int) ([]SyncHistory, error)
}

// WebhookEvent is one raw inbound webhook delivery. The payload is persisted
// before any validation or interpretation.
type WebhookEvent struct {
	ID         string
	TenantID   string
	Platform   platform.Platform
	Payload    []byte
	Signature  string
	Status     string
	Detail     string
	ReceivedAt time.Time
}

// Webhook event lifecycle states.
const (
	WebhookStatusReceived          = "received"
	WebhookStatusRejectedSignature = "rejected_signature"
	WebhookStatusProcessingError   = "processing_error"
	WebhookStatusProcessed         = "processed"
	WebhookStatusUnresolvedTenant  = "unresolved_tenant"
)

// WebhookEventStore persists raw webhook deliveries and their state
// transitions.
type WebhookEventStore interface {
	AppendWebhookEvent(ctx context.Context, event WebhookEvent) error
	SetWebhookEventStatus(ctx context.Context, id, status, detail string) error
	ListWebhookEvents(ctx context.Context, tenantID string, limit int) ([]WebhookEvent, error)
}

// OAuthState is a single-use state token tying an authorization redirect back
// to the tenant and platform that requested it.
type OAuthState struct {
	Token       string
	TenantID    string
	Platform    platform.Platform
	RedirectURI string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// OAuthStateStore persists single-use authorization state tokens. Consume must
// be atomic: concurrent consumers of the same token see exactly one success.
type OAuthStateStore interface {
	PutOAuthState(ctx context.Context, state OAuthState) error
	ConsumeOAuthState(ctx context.Context, token string) (OAuthState, error)
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)
}

// Store aggregates every storage concern the services depend on.
type Store interface {
	IntegrationStore
	SyncHistoryStore
	WebhookEventStore
	OAuthStateStore
	Close() error
}
