// Package webhook ingests vendor event pushes. The raw payload is persisted
// before anything interprets it; every later step only transitions the stored
// event's status. A delivery is acknowledged once stored, no matter how
// validation or reaction handling ends.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/admesh/admesh/internal/integration"
	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

// ResyncFunc triggers a targeted single-platform re-sync after a data-changing
// event. Implementations must not block ingestion.
type ResyncFunc func(tenantID string, p platform.Platform)

// Pipeline runs the persist-validate-react sequence for inbound webhooks.
type Pipeline struct {
	registry *integration.Registry
	events   ports.WebhookEventStore
	adapters *platform.Registry
	resync   ResyncFunc
	logger   *slog.Logger
	now      func() time.Time
}

// NewPipeline builds the ingestion pipeline. resync may be nil when no
// orchestrator is attached.
func NewPipeline(registry *integration.Registry, events ports.WebhookEventStore, adapters *platform.Registry, resync ResyncFunc, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if resync == nil {
		resync = func(string, platform.Platform) {}
	}
	return &Pipeline{
		registry: registry,
		events:   events,
		adapters: adapters,
		resync:   resync,
		logger:   logger,
		now:      time.Now,
	}
}

// IngestResult reports what happened to one delivery.
type IngestResult struct {
	EventID string
	Status  string
}

// Ingest stores and processes one delivery. The only error it returns is a
// failure to persist the raw event; everything after that is recorded on the
// event itself.
func (pl *Pipeline) Ingest(ctx context.Context, p platform.Platform, tenantHint string, payload []byte, signature string) (IngestResult, error) {
	eventID := deliveryID(p, payload, signature)
	tenantID := strings.TrimSpace(tenantHint)
	if tenantID == "" {
		tenantID = pl.resolveTenant(ctx, p)
	}

	if err := pl.events.AppendWebhookEvent(ctx, ports.WebhookEvent{
		ID:         eventID,
		TenantID:   tenantID,
		Platform:   p,
		Payload:    payload,
		Signature:  signature,
		Status:     ports.WebhookStatusReceived,
		ReceivedAt: pl.now(),
	}); err != nil {
		return IngestResult{}, fmt.Errorf("persist webhook event: %w", err)
	}

	status, detail := pl.process(ctx, eventID, tenantID, p, payload, signature)
	if status != ports.WebhookStatusReceived {
		if err := pl.events.SetWebhookEventStatus(ctx, eventID, status, detail); err != nil {
			pl.logger.ErrorContext(ctx, "failed to record webhook status",
				slog.String("event_id", eventID),
				slog.Any("error", err))
		}
	}
	return IngestResult{EventID: eventID, Status: status}, nil
}

// resolveTenant finds the owning tenant when the delivery has no hint. Only
// an unambiguous single active integration resolves; anything else stays
// unresolved and is recorded as such.
func (pl *Pipeline) resolveTenant(ctx context.Context, p platform.Platform) string {
	candidates, err := pl.registry.ListActiveByPlatform(ctx, p)
	if err != nil {
		pl.logger.ErrorContext(ctx, "tenant resolution failed",
			slog.String("platform", p.String()),
			slog.Any("error", err))
		return ""
	}
	if len(candidates) != 1 {
		return ""
	}
	return candidates[0].TenantID
}

func (pl *Pipeline) process(ctx context.Context, eventID, tenantID string, p platform.Platform, payload []byte, signature string) (string, string) {
	if tenantID == "" {
		return ports.WebhookStatusUnresolvedTenant, "no unambiguous active integration for platform"
	}

	adapter, err := pl.adapters.Adapter(p)
	if err != nil {
		return ports.WebhookStatusRejectedSignature, err.Error()
	}
	if !adapter.SupportsWebhooks() {
		return ports.WebhookStatusRejectedSignature, platform.ErrNoWebhookValidator.Error()
	}

	_, cfg, err := pl.registry.Get(ctx, tenantID, p)
	if err != nil {
		return ports.WebhookStatusRejectedSignature, fmt.Sprintf("load integration: %v", err)
	}
	secret := adapter.WebhookSecret(cfg)
	if secret == "" {
		return ports.WebhookStatusRejectedSignature, platform.ErrNoWebhookValidator.Error()
	}
	if !adapter.ValidateWebhookSignature(payload, signature, secret) {
		pl.logger.WarnContext(ctx, "webhook signature rejected",
			slog.String("event_id", eventID),
			slog.String("tenant_id", tenantID),
			slog.String("platform", p.String()))
		return ports.WebhookStatusRejectedSignature, "signature mismatch"
	}

	if err := pl.react(ctx, tenantID, p, payload); err != nil {
		pl.logger.ErrorContext(ctx, "webhook reaction failed",
			slog.String("event_id", eventID),
			slog.String("tenant_id", tenantID),
			slog.String("platform", p.String()),
			slog.Any("error", err))
		return ports.WebhookStatusProcessingError, err.Error()
	}
	return ports.WebhookStatusProcessed, ""
}

// react dispatches the platform reaction with panic containment. Handler
// failures never bubble past the stored event.
func (pl *Pipeline) react(ctx context.Context, tenantID string, p platform.Platform, payload []byte) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("reaction panic: %v", recovered)
			pl.logger.ErrorContext(ctx, "webhook reaction panicked",
				slog.String("platform", p.String()),
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	switch classify(p, payload) {
	case reactionRevoke:
		if err := pl.registry.MarkInactive(ctx, tenantID, p); err != nil && !errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("deactivate integration: %w", err)
		}
		return nil
	case reactionResync:
		pl.resync(tenantID, p)
		return nil
	default:
		return nil
	}
}

type reaction int

const (
	reactionNone reaction = iota
	reactionRevoke
	reactionResync
)

// classify maps a validated payload onto a reaction. Revocation markers per
// platform; any other recognizable event is treated as data-changing.
func classify(p platform.Platform, payload []byte) reaction {
	switch p {
	case platform.SocialAds:
		var body struct {
			Entry []struct {
				Changes []struct {
					Field string `json:"field"`
				} `json:"changes"`
			} `json:"entry"`
		}
		if json.Unmarshal(payload, &body) != nil {
			return reactionNone
		}
		for _, entry := range body.Entry {
			for _, change := range entry.Changes {
				if change.Field == "permissions" {
					return reactionRevoke
				}
			}
		}
		if len(body.Entry) > 0 {
			return reactionResync
		}
		return reactionNone
	case platform.Messaging:
		var body struct {
			Events []struct {
				Type string `json:"type"`
			} `json:"events"`
		}
		if json.Unmarshal(payload, &body) != nil {
			return reactionNone
		}
		for _, event := range body.Events {
			if event.Type == "unfollow" {
				return reactionRevoke
			}
		}
		if len(body.Events) > 0 {
			return reactionResync
		}
		return reactionNone
	case platform.ShortVideoAds:
		var body struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(payload, &body) != nil || body.Event == "" {
			return reactionNone
		}
		if body.Event == "authorize.removed" {
			return reactionRevoke
		}
		return reactionResync
	case platform.Marketplace:
		var body struct {
			Code int `json:"code"`
		}
		if json.Unmarshal(payload, &body) != nil || body.Code == 0 {
			return reactionNone
		}
		// Code 5 is shop deauthorization on the open platform push channel.
		if body.Code == 5 {
			return reactionRevoke
		}
		return reactionResync
	default:
		return reactionNone
	}
}

// deliveryID derives a stable id from the delivery content so vendor retries
// collapse onto the already-stored event.
func deliveryID(p platform.Platform, payload []byte, signature string) string {
	sum := sha256.New()
	sum.Write([]byte(p.String()))
	sum.Write([]byte{0})
	sum.Write([]byte(signature))
	sum.Write([]byte{0})
	sum.Write(payload)
	return hex.EncodeToString(sum.Sum(nil))
}
