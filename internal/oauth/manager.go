// Package oauth drives the per-attempt authorization flow and token refresh
// for tenant integrations. Each attempt moves REQUESTED → CODE_RECEIVED →
// TOKEN_EXCHANGED or FAILED; the state token that ties the redirect back to
// the attempt is single-use and expires after a short TTL.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/admesh/admesh/internal/integration"
	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

// Flow attempt states.
const (
	StateRequested      = "REQUESTED"
	StateCodeReceived   = "CODE_RECEIVED"
	StateTokenExchanged = "TOKEN_EXCHANGED"
	StateFailed         = "FAILED"
)

const stateTTL = 10 * time.Minute

var (
	// ErrStateInvalid indicates the callback state token is unknown or was
	// already consumed. Replayed callbacks land here.
	ErrStateInvalid = errors.New("authorization state invalid or already used")
	// ErrStateExpired indicates the tenant took longer than the state TTL to
	// complete the consent screen.
	ErrStateExpired = errors.New("authorization state expired")
	// ErrReauthRequired indicates the refresh token is dead and only a new
	// authorization by the tenant can recover the integration.
	ErrReauthRequired = errors.New("reauthorization required")
)

// Manager owns authorization attempts and token refresh for all platforms.
type Manager struct {
	registry *integration.Registry
	states   ports.OAuthStateStore
	adapters *platform.Registry
	apps     map[platform.Platform]platform.AppCredentials
	logger   *slog.Logger
	flight   singleflight.Group
	now      func() time.Time
}

// NewManager builds the flow manager. apps carries the per-platform
// application credentials used for code exchange.
func NewManager(registry *integration.Registry, states ports.OAuthStateStore, adapters *platform.Registry, apps map[platform.Platform]platform.AppCredentials, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		states:   states,
		adapters: adapters,
		apps:     apps,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Manager) app(p platform.Platform) (platform.AppCredentials, error) {
	app, ok := m.apps[p]
	if !ok || app.ClientID == "" {
		return platform.AppCredentials{}, fmt.Errorf("%s: application credentials not configured", p)
	}
	return app, nil
}

// Start issues the provider authorization URL for a new attempt and persists
// the single-use state token backing it.
func (m *Manager) Start(ctx context.Context, tenantID string, p platform.Platform, redirectURI string) (string, error) {
	adapter, err := m.adapters.Adapter(p)
	if err != nil {
		return "", err
	}
	app, err := m.app(p)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	if err := m.states.PutOAuthState(ctx, ports.OAuthState{
		Token:       token,
		TenantID:    tenantID,
		Platform:    p,
		RedirectURI: redirectURI,
		ExpiresAt:   m.now().Add(stateTTL),
	}); err != nil {
		return "", fmt.Errorf("persist authorization state: %w", err)
	}

	authURL, err := adapter.AuthorizationURL(app.ClientID, redirectURI, token)
	if err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "authorization flow started",
		slog.String("tenant_id", tenantID),
		slog.String("platform", p.String()),
		slog.String("flow_state", StateRequested))
	return authURL, nil
}

// CallbackResult reports the terminal state of one callback handling.
type CallbackResult struct {
	TenantID string
	Platform platform.Platform
	State    string
}

// HandleCallback consumes the state token, exchanges the authorization code
// and folds the issued tokens into the integration, re-activating it. The
// state is consumed atomically: a replayed callback fails with
// ErrStateInvalid no matter how the first attempt ended.
func (m *Manager) HandleCallback(ctx context.Context, code, stateToken string) (CallbackResult, error) {
	state, err := m.states.ConsumeOAuthState(ctx, stateToken)
	if errors.Is(err, ports.ErrNotFound) {
		return CallbackResult{State: StateFailed}, ErrStateInvalid
	}
	if err != nil {
		return CallbackResult{State: StateFailed}, err
	}
	result := CallbackResult{TenantID: state.TenantID, Platform: state.Platform, State: StateCodeReceived}

	if m.now().After(state.ExpiresAt) {
		result.State = StateFailed
		return result, ErrStateExpired
	}

	adapter, err := m.adapters.Adapter(state.Platform)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	app, err := m.app(state.Platform)
	if err != nil {
		result.State = StateFailed
		return result, err
	}

	set, err := adapter.ExchangeCode(ctx, code, app, state.RedirectURI)
	if err != nil {
		result.State = StateFailed
		m.logger.ErrorContext(ctx, "authorization code exchange failed",
			slog.String("tenant_id", state.TenantID),
			slog.String("platform", state.Platform.String()),
			slog.Any("error", err))
		return result, err
	}

	if _, err := m.registry.UpdateConfig(ctx, state.TenantID, state.Platform, func(cfg platform.Config) (platform.Config, error) {
		return platform.ApplyTokenSet(cfg, set)
	}); err != nil {
		result.State = StateFailed
		return result, err
	}
	if err := m.registry.Activate(ctx, state.TenantID, state.Platform); err != nil {
		result.State = StateFailed
		return result, err
	}

	result.State = StateTokenExchanged
	m.logger.InfoContext(ctx, "authorization flow completed",
		slog.String("tenant_id", state.TenantID),
		slog.String("platform", state.Platform.String()),
		slog.String("flow_state", StateTokenExchanged))
	return result, nil
}

// Refresh rotates the integration's tokens. Calls for the same
// (tenant, platform) are single-flight: concurrent callers share one provider
// round trip. A dead refresh token deactivates the integration and surfaces
// ErrReauthRequired.
func (m *Manager) Refresh(ctx context.Context, tenantID string, p platform.Platform) (platform.Config, error) {
	key := tenantID + "/" + p.String()
	value, err, _ := m.flight.Do(key, func() (any, error) {
		return m.refresh(ctx, tenantID, p)
	})
	if err != nil {
		return nil, err
	}
	return value.(platform.Config), nil
}

func (m *Manager) refresh(ctx context.Context, tenantID string, p platform.Platform) (platform.Config, error) {
	adapter, err := m.adapters.Adapter(p)
	if err != nil {
		return nil, err
	}

	refreshed, err := m.registry.UpdateConfig(ctx, tenantID, p, func(cfg platform.Config) (platform.Config, error) {
		set, err := adapter.RefreshToken(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return platform.ApplyTokenSet(cfg, set)
	})
	if err == nil {
		m.logger.InfoContext(ctx, "token refreshed",
			slog.String("tenant_id", tenantID),
			slog.String("platform", p.String()))
		return refreshed, nil
	}

	if platform.IsReauthRequired(err) {
		if markErr := m.registry.MarkInactive(ctx, tenantID, p); markErr != nil {
			m.logger.ErrorContext(ctx, "failed to deactivate integration after dead refresh token",
				slog.String("tenant_id", tenantID),
				slog.String("platform", p.String()),
				slog.Any("error", markErr))
		}
		return nil, fmt.Errorf("%w: %s", ErrReauthRequired, err)
	}
	return nil, err
}

// PruneStates removes expired, never-consumed state tokens.
func (m *Manager) PruneStates(ctx context.Context) (int64, error) {
	return m.states.DeleteExpiredOAuthStates(ctx, m.now())
}
