package routes

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/adapters/sqlite"
	"github.com/admesh/admesh/internal/db"
	"github.com/admesh/admesh/internal/integration"
	"github.com/admesh/admesh/internal/oauth"
	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
	"github.com/admesh/admesh/internal/syncer"
	"github.com/admesh/admesh/internal/webhook"
)

const testJWTSecret = "routes-test-secret"

type routesFixture struct {
	e        *echo.Echo
	store    *sqlite.Store
	registry *integration.Registry
}

func newRoutesFixture(t *testing.T) *routesFixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "routes-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	store := sqlite.New(database)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := integration.NewRegistry(store, bytes.Repeat([]byte{0x42}, 32), slog.Default())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	adapters := platform.NewRegistry(platform.NewClient(0))
	apps := map[platform.Platform]platform.AppCredentials{
		platform.Messaging: {ClientID: "line-app", ClientSecret: "line-secret"},
	}
	manager := oauth.NewManager(registry, store, adapters, apps, slog.Default())
	orchestrator := syncer.NewOrchestrator(registry, store, adapters, manager, slog.Default(), syncer.Options{})
	pipeline := webhook.NewPipeline(registry, store, adapters, nil, slog.Default())

	auth := TenantAuth(testJWTSecret)
	e := echo.New()
	for _, r := range []interface{ RegisterRoutes(*echo.Echo) }{
		NewIntegrationRoutes(registry, store, store, auth),
		NewSyncRoutes(orchestrator, auth),
		NewOAuthRoutes(manager, auth),
		NewWebhookRoutes(pipeline),
		NewHealthRoutes(database),
	} {
		r.RegisterRoutes(e)
	}
	return &routesFixture{e: e, store: store, registry: registry}
}

func bearerToken(t *testing.T, tenant string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenantId": tenant,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (f *routesFixture) request(t *testing.T, method, target, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tenant != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearerToken(t, tenant))
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestAPIRejectsMissingOrForgedToken(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/integrations", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenantId": "tenant-1",
	}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+forged)
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: expected 401, got %d", rec.Code)
	}
}

func TestIntegrationLifecycleOverAPI(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	body := map[string]any{
		"config": map[string]string{
			"channelId":     "ch",
			"channelSecret": "secret",
			"accessToken":   "tok",
		},
		"syncFrequencyMinutes": 30,
	}
	rec := f.request(t, http.MethodPost, "/api/v1/integrations/messaging", "tenant-1", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret") || strings.Contains(rec.Body.String(), "tok") {
		t.Fatal("response leaked credentials")
	}

	rec = f.request(t, http.MethodGet, "/api/v1/integrations", "tenant-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var views []integrationView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(views) != 1 || views[0].Platform != platform.Messaging || views[0].SyncFrequencyMinutes != 30 {
		t.Fatalf("unexpected list: %+v", views)
	}

	// Another tenant sees nothing.
	rec = f.request(t, http.MethodGet, "/api/v1/integrations", "tenant-2", nil)
	var other []integrationView
	if err := json.Unmarshal(rec.Body.Bytes(), &other); err != nil {
		t.Fatalf("decode other list: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("tenant isolation broken: %+v", other)
	}

	rec = f.request(t, http.MethodDelete, "/api/v1/integrations/messaging", "tenant-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = f.request(t, http.MethodGet, "/api/v1/integrations/messaging", "tenant-1", nil)
	var view integrationView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Active {
		t.Fatal("delete without purge must tombstone, not keep active")
	}

	rec = f.request(t, http.MethodDelete, "/api/v1/integrations/messaging?purge=true", "tenant-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("purge: expected 204, got %d", rec.Code)
	}
	rec = f.request(t, http.MethodGet, "/api/v1/integrations/messaging", "tenant-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("purged integration should 404, got %d", rec.Code)
	}
}

func TestUpsertRejectsMalformedConfig(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/integrations/messaging", "tenant-1", map[string]any{
		"config": map[string]string{"channelId": "ch"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("incomplete config: expected 422, got %d", rec.Code)
	}

	rec = f.request(t, http.MethodPost, "/api/v1/integrations/not-a-platform", "tenant-1", map[string]any{
		"config": map[string]string{},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown platform: expected 404, got %d", rec.Code)
	}
}

func TestSyncEndpointReportsPerPlatformResults(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/sync", "tenant-1", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("empty tenant sync: expected 200, got %d", rec.Code)
	}
	var results []syncer.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("no active integrations, expected empty results: %+v", results)
	}

	rec = f.request(t, http.MethodPost, "/api/v1/sync", "tenant-1", map[string]any{"platform": "carrier-pigeon"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown platform: expected 422, got %d", rec.Code)
	}

	rec = f.request(t, http.MethodPost, "/api/v1/sync", "tenant-1", map[string]any{
		"dateRange": map[string]string{"start": "01/02/2026", "end": "2026-02-28"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date format: expected 400, got %d", rec.Code)
	}
}

func TestOAuthStartReturnsAuthorizationURL(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/integrations/messaging/oauth/start", "tenant-1", map[string]string{
		"redirectUri": "https://app.example.com/callback",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(payload["authorizationUrl"], "client_id=line-app") {
		t.Fatalf("authorization URL missing app client id: %q", payload["authorizationUrl"])
	}

	// A platform without configured app credentials cannot start a flow.
	rec = f.request(t, http.MethodPost, "/api/v1/integrations/social-ads/oauth/start", "tenant-1", map[string]string{
		"redirectUri": "https://app.example.com/callback",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unconfigured app: expected 422, got %d", rec.Code)
	}
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/oauth/callback?code=abc&state=never-issued", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown state: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/oauth/callback?code=abc", nil)
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing state: expected 400, got %d", rec.Code)
	}
}

func TestWebhookEndpointAcknowledgesOnceStored(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	secret := "line-channel-secret"
	if _, err := f.registry.Upsert(context.Background(), integration.UpsertInput{
		TenantID: "tenant-1",
		Platform: platform.Messaging,
		Config:   platform.LineConfig{ChannelID: "ch", ChannelSecret: secret, AccessToken: "tok"},
		Active:   true,
	}); err != nil {
		t.Fatalf("seed integration: %v", err)
	}

	payload := []byte(`{"events":[{"type":"message"}]}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messaging", bytes.NewReader(payload))
	req.Header.Set("X-Line-Signature", signature)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid delivery: expected 200, got %d", rec.Code)
	}
	var ack map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["status"] != ports.WebhookStatusProcessed {
		t.Fatalf("expected processed, got %q", ack["status"])
	}

	// Bad signature is still acknowledged; the rejection lives on the event.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/messaging", bytes.NewReader(payload))
	req.Header.Set("X-Line-Signature", "forged")
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("forged delivery: expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["status"] != ports.WebhookStatusRejectedSignature {
		t.Fatalf("expected rejected_signature, got %q", ack["status"])
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newRoutesFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
