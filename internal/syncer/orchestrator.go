// Package syncer fans metric pulls out across a tenant's active integrations.
// Each platform attempt runs isolated: bounded parallelism, its own timeout,
// panic containment, and exactly one history row regardless of outcome.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/admesh/admesh/internal/integration"
	"github.com/admesh/admesh/internal/oauth"
	"github.com/admesh/admesh/internal/observability"
	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

const (
	defaultParallelism     = 5
	defaultPlatformTimeout = 2 * time.Minute
)

// Result is the outcome of one platform sync attempt. A failed attempt
// carries its error text; siblings are unaffected.
type Result struct {
	TenantID  string              `json:"tenantId"`
	Platform  platform.Platform   `json:"platform"`
	Status    string              `json:"status"`
	Campaigns []platform.Campaign `json:"campaigns,omitempty"`
	Insights  []platform.Insight  `json:"insights,omitempty"`
	Error     string              `json:"error,omitempty"`
	Duration  time.Duration       `json:"durationMs"`
}

// Orchestrator coordinates sync attempts across platforms.
type Orchestrator struct {
	registry        *integration.Registry
	history         ports.SyncHistoryStore
	adapters        *platform.Registry
	oauth           *oauth.Manager
	logger          *slog.Logger
	parallelism     int
	platformTimeout time.Duration
	now             func() time.Time
}

// Options tune orchestrator limits; zero values fall back to defaults.
type Options struct {
	Parallelism     int
	PlatformTimeout time.Duration
}

// NewOrchestrator builds the orchestrator.
func NewOrchestrator(registry *integration.Registry, history ports.SyncHistoryStore, adapters *platform.Registry, manager *oauth.Manager, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	timeout := opts.PlatformTimeout
	if timeout <= 0 {
		timeout = defaultPlatformTimeout
	}
	return &Orchestrator{
		registry:        registry,
		history:         history,
		adapters:        adapters,
		oauth:           manager,
		logger:          logger,
		parallelism:     parallelism,
		platformTimeout: timeout,
		now:             time.Now,
	}
}

// SyncTenant syncs every active integration of the tenant. The returned list
// always covers all of them: individual failures become failed results, never
// a wholesale error.
func (o *Orchestrator) SyncTenant(ctx context.Context, tenantID string, dateRange *platform.DateRange) ([]Result, error) {
	active, err := o.registry.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}

	results := make([]Result, len(active))
	var group errgroup.Group
	group.SetLimit(o.parallelism)
	for i, stored := range active {
		group.Go(func() error {
			results[i] = o.SyncPlatform(ctx, tenantID, stored.Platform, dateRange)
			return nil
		})
	}
	_ = group.Wait()
	return results, nil
}

// SyncPlatform runs one attempt for a single platform and records it.
func (o *Orchestrator) SyncPlatform(ctx context.Context, tenantID string, p platform.Platform, dateRange *platform.DateRange) Result {
	ctx = observability.WithSyncIdentity(ctx, tenantID, p.String())
	started := o.now()
	campaigns, insights, err := o.attempt(ctx, tenantID, p, dateRange)
	finished := o.now()

	result := Result{
		TenantID:  tenantID,
		Platform:  p,
		Status:    ports.SyncStatusSuccess,
		Campaigns: campaigns,
		Insights:  insights,
		Duration:  finished.Sub(started),
	}
	if err != nil {
		result.Status = ports.SyncStatusFailure
		result.Error = err.Error()
		result.Campaigns = nil
		result.Insights = nil
	}

	record := ports.SyncHistory{
		TenantID:     tenantID,
		Platform:     p,
		Status:       result.Status,
		CampaignRows: len(result.Campaigns),
		InsightRows:  len(result.Insights),
		Error:        result.Error,
		StartedAt:    started,
		FinishedAt:   finished,
	}
	if histErr := o.history.AppendSyncHistory(ctx, record); histErr != nil {
		o.logger.ErrorContext(ctx, "failed to record sync attempt",
			slog.String("tenant_id", tenantID),
			slog.String("platform", p.String()),
			slog.Any("error", histErr))
	}

	if err == nil {
		if touchErr := o.registry.TouchSync(ctx, tenantID, p, finished); touchErr != nil {
			o.logger.ErrorContext(ctx, "failed to stamp sync time",
				slog.String("tenant_id", tenantID),
				slog.String("platform", p.String()),
				slog.Any("error", touchErr))
		}
	} else {
		o.logger.WarnContext(ctx, "sync attempt failed",
			slog.String("tenant_id", tenantID),
			slog.String("platform", p.String()),
			slog.Any("error", err))
	}
	return result
}

// attempt pulls campaigns and insights once, with a single refresh-and-retry
// when the access token has expired mid-pull.
func (o *Orchestrator) attempt(ctx context.Context, tenantID string, p platform.Platform, dateRange *platform.DateRange) ([]platform.Campaign, []platform.Insight, error) {
	adapter, err := o.adapters.Adapter(p)
	if err != nil {
		return nil, nil, err
	}
	_, cfg, err := o.registry.Get(ctx, tenantID, p)
	if err != nil {
		return nil, nil, err
	}

	campaigns, insights, err := o.pull(ctx, adapter, cfg, dateRange)
	if !errors.Is(err, platform.ErrAuthExpired) {
		return campaigns, insights, err
	}

	refreshed, refreshErr := o.oauth.Refresh(ctx, tenantID, p)
	if refreshErr != nil {
		return nil, nil, refreshErr
	}
	return o.pull(ctx, adapter, refreshed, dateRange)
}

// pull executes both fetches under the per-platform timeout with panic
// containment: a panicking adapter fails its own attempt only.
func (o *Orchestrator) pull(ctx context.Context, adapter platform.Adapter, cfg platform.Config, dateRange *platform.DateRange) (campaigns []platform.Campaign, insights []platform.Insight, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.platformTimeout)
	defer cancel()
	defer func() {
		if recovered := recover(); recovered != nil {
			campaigns, insights = nil, nil
			err = fmt.Errorf("sync panic: %v", recovered)
			o.logger.ErrorContext(ctx, "sync attempt panicked",
				slog.String("platform", adapter.Platform().String()),
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	campaigns, err = adapter.FetchCampaigns(ctx, cfg, dateRange)
	if err != nil {
		return nil, nil, err
	}
	insights, err = adapter.FetchInsights(ctx, cfg, dateRange)
	if err != nil {
		return nil, nil, err
	}
	return campaigns, insights, nil
}
