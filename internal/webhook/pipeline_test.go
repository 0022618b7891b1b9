package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/admesh/admesh/internal/adapters/sqlite"
	"github.com/admesh/admesh/internal/db"
	"github.com/admesh/admesh/internal/integration"
	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

type resyncRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *resyncRecorder) record(tenantID string, p platform.Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tenantID+"/"+p.String())
}

func (r *resyncRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type pipelineFixture struct {
	pipeline *Pipeline
	registry *integration.Registry
	store    *sqlite.Store
	resyncs  *resyncRecorder
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "webhook-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	store := sqlite.New(database)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := integration.NewRegistry(store, bytes.Repeat([]byte{0x42}, 32), slog.Default())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	recorder := &resyncRecorder{}
	pipeline := NewPipeline(registry, store, platform.NewRegistry(platform.NewClient(0)), recorder.record, slog.Default())
	return &pipelineFixture{pipeline: pipeline, registry: registry, store: store, resyncs: recorder}
}

const lineChannelSecret = "line-channel-secret"

func (f *pipelineFixture) seedLine(t *testing.T, tenantID string) {
	t.Helper()
	if _, err := f.registry.Upsert(context.Background(), integration.UpsertInput{
		TenantID: tenantID,
		Platform: platform.Messaging,
		Config:   platform.LineConfig{ChannelID: "ch", ChannelSecret: lineChannelSecret, AccessToken: "tok"},
		Active:   true,
	}); err != nil {
		t.Fatalf("seed line integration: %v", err)
	}
}

func lineSign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(lineChannelSecret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestIngestValidSignatureProcessesAndResyncs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.seedLine(t, "tenant-1")

	payload := []byte(`{"events":[{"type":"message"}]}`)
	result, err := f.pipeline.Ingest(ctx, platform.Messaging, "", payload, lineSign(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != ports.WebhookStatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	if calls := f.resyncs.snapshot(); len(calls) != 1 || calls[0] != "tenant-1/messaging" {
		t.Fatalf("expected targeted re-sync, got %v", calls)
	}

	events, err := f.store.ListWebhookEvents(ctx, "tenant-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Status != ports.WebhookStatusProcessed {
		t.Fatalf("unexpected stored events: %+v", events)
	}
	if !bytes.Equal(events[0].Payload, payload) {
		t.Fatal("raw payload not preserved")
	}
}

func TestIngestBadSignatureStoresRejection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.seedLine(t, "tenant-1")

	payload := []byte(`{"events":[{"type":"message"}]}`)
	result, err := f.pipeline.Ingest(ctx, platform.Messaging, "", payload, "forged-signature")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != ports.WebhookStatusRejectedSignature {
		t.Fatalf("expected rejected_signature, got %s", result.Status)
	}
	if calls := f.resyncs.snapshot(); len(calls) != 0 {
		t.Fatalf("rejected event must not react, got %v", calls)
	}

	// The raw event is still on record for audit.
	events, err := f.store.ListWebhookEvents(ctx, "tenant-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Status != ports.WebhookStatusRejectedSignature {
		t.Fatalf("unexpected stored events: %+v", events)
	}
}

func TestIngestMissingValidatorIsRejectionNotTrust(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.registry.Upsert(ctx, integration.UpsertInput{
		TenantID: "tenant-1",
		Platform: platform.SearchAds,
		Config:   platform.GoogleAdsConfig{ClientID: "c", ClientSecret: "s", RefreshToken: "r", DeveloperToken: "d", CustomerID: "1"},
		Active:   true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := f.pipeline.Ingest(ctx, platform.SearchAds, "tenant-1", []byte(`{}`), "any")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != ports.WebhookStatusRejectedSignature {
		t.Fatalf("no validator must reject, got %s", result.Status)
	}
}

func TestIngestUnresolvedTenantRecorded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	payload := []byte(`{"events":[]}`)
	result, err := f.pipeline.Ingest(ctx, platform.Messaging, "", payload, lineSign(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != ports.WebhookStatusUnresolvedTenant {
		t.Fatalf("expected unresolved_tenant, got %s", result.Status)
	}
}

func TestIngestAmbiguousTenantStaysUnresolved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.seedLine(t, "tenant-1")
	f.seedLine(t, "tenant-2")

	payload := []byte(`{"events":[{"type":"message"}]}`)
	result, err := f.pipeline.Ingest(ctx, platform.Messaging, "", payload, lineSign(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != ports.WebhookStatusUnresolvedTenant {
		t.Fatalf("two candidate tenants must stay unresolved, got %s", result.Status)
	}

	// An explicit hint disambiguates the same delivery.
	result, err = f.pipeline.Ingest(ctx, platform.Messaging, "tenant-2", payload, lineSign(payload))
	if err != nil {
		t.Fatalf("hinted ingest: %v", err)
	}
	if result.Status != ports.WebhookStatusProcessed {
		t.Fatalf("hinted delivery should process, got %s", result.Status)
	}
}

func TestIngestRevocationDeactivatesIntegration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.seedLine(t, "tenant-1")

	payload := []byte(`{"events":[{"type":"unfollow"}]}`)
	result, err := f.pipeline.Ingest(ctx, platform.Messaging, "", payload, lineSign(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != ports.WebhookStatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	stored, _, err := f.registry.Get(ctx, "tenant-1", platform.Messaging)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Active {
		t.Fatal("revocation event did not deactivate integration")
	}
	if calls := f.resyncs.snapshot(); len(calls) != 0 {
		t.Fatalf("revocation must not trigger re-sync, got %v", calls)
	}
}

func TestIngestDuplicateDeliveryCollapses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.seedLine(t, "tenant-1")

	payload := []byte(`{"events":[{"type":"message"}]}`)
	first, err := f.pipeline.Ingest(ctx, platform.Messaging, "", payload, lineSign(payload))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := f.pipeline.Ingest(ctx, platform.Messaging, "", payload, lineSign(payload))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if first.EventID != second.EventID {
		t.Fatalf("redelivery produced a new event: %s vs %s", first.EventID, second.EventID)
	}

	events, err := f.store.ListWebhookEvents(ctx, "tenant-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected a single stored event, got %d", len(events))
	}
}
