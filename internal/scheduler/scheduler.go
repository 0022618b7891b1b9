// Package scheduler triggers recurring syncs for integrations that carry a
// sync frequency. Integrations without one only sync on demand.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
	"github.com/admesh/admesh/internal/syncer"
)

const defaultInterval = time.Minute

// Scheduler polls for due integrations and runs their syncs.
type Scheduler struct {
	store        ports.IntegrationStore
	orchestrator *syncer.Orchestrator
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New builds the scheduler. interval is the polling period; zero uses the
// default.
func New(store ports.IntegrationStore, orchestrator *syncer.Orchestrator, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Run polls until ctx is cancelled. The first pass is delayed by a jitter of
// up to one interval so replicas starting together do not align.
func (s *Scheduler) Run(ctx context.Context) {
	jitter := time.Duration(rand.Int63n(int64(s.interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.ListDueIntegrations(ctx, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler failed to list due integrations", slog.Any("error", err))
		return
	}
	if len(due) == 0 {
		return
	}
	s.logger.InfoContext(ctx, "scheduled sync pass", slog.Int("due", len(due)))

	for _, integration := range due {
		if ctx.Err() != nil {
			return
		}
		s.runOne(ctx, integration.TenantID, integration.Platform)
	}
}

func (s *Scheduler) runOne(ctx context.Context, tenantID string, p platform.Platform) {
	result := s.orchestrator.SyncPlatform(ctx, tenantID, p, nil)
	if result.Status != ports.SyncStatusSuccess {
		s.logger.WarnContext(ctx, "scheduled sync failed",
			slog.String("tenant_id", tenantID),
			slog.String("platform", p.String()),
			slog.String("error", result.Error))
	}
}
