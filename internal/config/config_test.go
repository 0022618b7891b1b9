package config

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForLocalDevelopment(t *testing.T) {
	t.Setenv("ADMESH_ENV", "local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.IsLocalDevelopment() {
		t.Fatal("expected local development environment")
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "data/default" {
		t.Fatalf("unexpected default db path: %q", cfg.Database.Path)
	}
	if len(cfg.Crypto.EncryptionKey) != 32 {
		t.Fatalf("local dev must get a usable 32-byte key, got %d bytes", len(cfg.Crypto.EncryptionKey))
	}
	if cfg.Auth.JWTSecret != "admesh-local-dev" {
		t.Fatalf("expected local fallback JWT secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Sync.Parallelism != 5 {
		t.Fatalf("unexpected default parallelism: %d", cfg.Sync.Parallelism)
	}
	if cfg.Sync.SchedulerInterval != time.Minute {
		t.Fatalf("unexpected default scheduler interval: %s", cfg.Sync.SchedulerInterval)
	}
	if cfg.Observability.Enabled {
		t.Fatal("observability should be off by default")
	}
}

func TestLoadRequiresSecretsOutsideLocal(t *testing.T) {
	t.Setenv("ADMESH_ENV", "production")
	t.Setenv("ADMESH_JWT_SECRET", "prod-secret")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ADMESH_ENCRYPTION_KEY") {
		t.Fatalf("expected missing encryption key error, got %v", err)
	}

	t.Setenv("ADMESH_ENCRYPTION_KEY", hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	t.Setenv("ADMESH_JWT_SECRET", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ADMESH_JWT_SECRET") {
		t.Fatalf("expected missing JWT secret error, got %v", err)
	}
}

func TestLoadForToolAllowsMissingSecretsOutsideLocal(t *testing.T) {
	t.Setenv("ADMESH_ENV", "production")

	cfg, err := LoadForTool()
	if err != nil {
		t.Fatalf("expected no error for tool config load, got %v", err)
	}
	if cfg.Auth.JWTSecret != "" {
		t.Fatalf("expected empty JWT secret for tool load, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Crypto.EncryptionKey != nil {
		t.Fatal("expected no encryption key for tool load")
	}
}

func TestLoadRejectsMalformedEncryptionKey(t *testing.T) {
	t.Setenv("ADMESH_ENV", "production")
	t.Setenv("ADMESH_JWT_SECRET", "prod-secret")
	t.Setenv("ADMESH_ENCRYPTION_KEY", "not-hex")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "must be hex") {
		t.Fatalf("expected hex error, got %v", err)
	}

	t.Setenv("ADMESH_ENCRYPTION_KEY", hex.EncodeToString([]byte("short")))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestLoadClampsSyncSettings(t *testing.T) {
	t.Setenv("ADMESH_ENV", "local")
	t.Setenv("ADMESH_SYNC_PARALLELISM", "1000")
	t.Setenv("ADMESH_SYNC_PLATFORM_TIMEOUT_MS", "-5")
	t.Setenv("ADMESH_SCHEDULER_INTERVAL_MS", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Sync.Parallelism != 32 {
		t.Fatalf("parallelism not clamped: %d", cfg.Sync.Parallelism)
	}
	if cfg.PlatformTimeout() != 2*time.Minute {
		t.Fatalf("negative timeout not reset: %s", cfg.PlatformTimeout())
	}
	if cfg.Sync.SchedulerInterval != time.Minute {
		t.Fatalf("sub-second interval not reset: %s", cfg.Sync.SchedulerInterval)
	}
}

func TestLoadParsesOTLPHeadersAndAppCredentials(t *testing.T) {
	t.Setenv("ADMESH_ENV", "local")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://otlp.example.com")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer common,x-org=abc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_HEADERS", "x-org=trace-only")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_HEADERS", "x-metric=metric-only")
	t.Setenv("ADMESH_FACEBOOK_CLIENT_ID", "fb-app")
	t.Setenv("ADMESH_FACEBOOK_CLIENT_SECRET", "fb-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Observability.Enabled {
		t.Fatal("an OTLP endpoint must enable observability")
	}
	if cfg.Observability.OTLPTraceHeaders["authorization"] != "Bearer common" {
		t.Fatalf("expected common header in trace headers, got %#v", cfg.Observability.OTLPTraceHeaders)
	}
	if cfg.Observability.OTLPTraceHeaders["x-org"] != "trace-only" {
		t.Fatalf("signal headers must override common ones, got %#v", cfg.Observability.OTLPTraceHeaders)
	}
	if cfg.Observability.OTLPMetricHeaders["x-org"] != "abc" {
		t.Fatalf("metric headers should keep the common value, got %#v", cfg.Observability.OTLPMetricHeaders)
	}
	if cfg.Observability.OTLPMetricHeaders["x-metric"] != "metric-only" {
		t.Fatalf("expected metric-specific header, got %#v", cfg.Observability.OTLPMetricHeaders)
	}
	if cfg.Apps.Facebook.ClientID != "fb-app" || cfg.Apps.Facebook.ClientSecret != "fb-secret" {
		t.Fatalf("unexpected facebook app credentials: %+v", cfg.Apps.Facebook)
	}
	if cfg.Apps.Shopee.ClientID != "" {
		t.Fatal("unset app credentials should stay empty")
	}
}
