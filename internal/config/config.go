package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Crypto        CryptoConfig
	Sync          SyncConfig
	Apps          AppsConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port      int
	PublicURL string
}

type DatabaseConfig struct {
	Path string
}

type AuthConfig struct {
	JWTSecret string
}

type CryptoConfig struct {
	// EncryptionKey is the 32-byte key for credential blobs at rest.
	EncryptionKey []byte
}

type SyncConfig struct {
	Parallelism       int
	PlatformTimeoutMS int
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	VendorTimeoutMS   int
}

// AppCredential is one platform's OAuth application credential pair.
type AppCredential struct {
	ClientID     string
	ClientSecret string
}

// AppsConfig carries per-platform application credentials. Platforms without
// credentials cannot run the authorization flow but still accept manually
// registered static credentials.
type AppsConfig struct {
	Facebook  AppCredential
	GoogleAds AppCredential
	Line      AppCredential
	TikTok    AppCredential
	Shopee    AppCredential
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

func Load() (Config, error) {
	return load(true)
}

// LoadForTool loads config for CLI tools that do not serve the API and so do
// not require auth or encryption secrets.
func LoadForTool() (Config, error) {
	return load(false)
}

func load(requireSecrets bool) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("admesh_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("admesh_port", 8080)
	v.SetDefault("admesh_public_url", "")
	v.SetDefault("admesh_db_path", "data/default")
	v.SetDefault("admesh_jwt_secret", "")
	v.SetDefault("admesh_encryption_key", "")
	v.SetDefault("admesh_sync_parallelism", 5)
	v.SetDefault("admesh_sync_platform_timeout_ms", 120000)
	v.SetDefault("admesh_scheduler_enabled", true)
	v.SetDefault("admesh_scheduler_interval_ms", 60000)
	v.SetDefault("admesh_vendor_timeout_ms", 15000)
	v.SetDefault("admesh_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "admesh")
	v.SetDefault("admesh_service_name", "admesh")
	v.SetDefault("admesh_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("admesh_otel_sampling_ratio", 1.0)
	v.SetDefault("admesh_otel_metrics_console", false)

	env := resolveEnvironment(v)
	port := v.GetInt("admesh_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid ADMESH_PORT: %d", port)
	}

	parallelism := v.GetInt("admesh_sync_parallelism")
	if parallelism <= 0 {
		parallelism = 5
	}
	if parallelism > 32 {
		parallelism = 32
	}

	platformTimeout := v.GetInt("admesh_sync_platform_timeout_ms")
	if platformTimeout <= 0 {
		platformTimeout = 120000
	}

	schedulerInterval := v.GetInt("admesh_scheduler_interval_ms")
	if schedulerInterval < 1000 {
		schedulerInterval = 60000
	}

	vendorTimeout := v.GetInt("admesh_vendor_timeout_ms")
	if vendorTimeout <= 0 {
		vendorTimeout = 15000
	}

	samplingRatio := v.GetFloat64("admesh_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("admesh_service_name"))
	}
	if serviceName == "" {
		serviceName = "admesh"
	}

	serviceVersion := strings.TrimSpace(v.GetString("admesh_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("admesh_otel_metrics_console")
	otelEnabled := v.GetBool("admesh_otel_enabled") || otlpEndpoint != "" || metricsConsole

	cfg := Config{
		Environment: env,
		Server: ServerConfig{
			Port:      port,
			PublicURL: strings.TrimSpace(v.GetString("admesh_public_url")),
		},
		Database: DatabaseConfig{
			Path: strings.TrimSpace(v.GetString("admesh_db_path")),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(v.GetString("admesh_jwt_secret")),
		},
		Sync: SyncConfig{
			Parallelism:       parallelism,
			PlatformTimeoutMS: platformTimeout,
			SchedulerEnabled:  v.GetBool("admesh_scheduler_enabled"),
			SchedulerInterval: time.Duration(schedulerInterval) * time.Millisecond,
			VendorTimeoutMS:   vendorTimeout,
		},
		Apps: AppsConfig{
			Facebook:  appCredential(v, "facebook"),
			GoogleAds: appCredential(v, "googleads"),
			Line:      appCredential(v, "line"),
			TikTok:    appCredential(v, "tiktok"),
			Shopee:    appCredential(v, "shopee"),
		},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders),
			OTLPMetricHeaders: mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders),
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/default"
	}

	key, err := resolveEncryptionKey(v.GetString("admesh_encryption_key"), requireSecrets, cfg.IsLocalDevelopment())
	if err != nil {
		return Config{}, err
	}
	cfg.Crypto.EncryptionKey = key

	if requireSecrets && !cfg.IsLocalDevelopment() && cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("ADMESH_JWT_SECRET is required outside local/dev environments")
	}
	if cfg.IsLocalDevelopment() && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "admesh-local-dev"
	}

	return cfg, nil
}

// resolveEncryptionKey parses the hex key. Local development gets a fixed
// fallback key so plaintext env setup is not required to boot.
func resolveEncryptionKey(raw string, required, localDev bool) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required && !localDev {
			return nil, fmt.Errorf("ADMESH_ENCRYPTION_KEY is required outside local/dev environments")
		}
		if !localDev && !required {
			return nil, nil
		}
		return []byte("admesh-local-dev-encryption-key!"), nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("ADMESH_ENCRYPTION_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ADMESH_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func appCredential(v *viper.Viper, name string) AppCredential {
	return AppCredential{
		ClientID:     strings.TrimSpace(v.GetString("admesh_" + name + "_client_id")),
		ClientSecret: strings.TrimSpace(v.GetString("admesh_" + name + "_client_secret")),
	}
}

func parseOTLPHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimSpace(pair[0])
		value := strings.TrimSpace(pair[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

// PlatformTimeout returns the per-platform sync deadline.
func (c Config) PlatformTimeout() time.Duration {
	return time.Duration(c.Sync.PlatformTimeoutMS) * time.Millisecond
}

// VendorTimeout returns the per-call vendor API deadline.
func (c Config) VendorTimeout() time.Duration {
	return time.Duration(c.Sync.VendorTimeoutMS) * time.Millisecond
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"admesh_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
