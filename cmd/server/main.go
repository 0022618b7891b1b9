package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/admesh/admesh/internal/adapters/sqlite"
	"github.com/admesh/admesh/internal/config"
	"github.com/admesh/admesh/internal/db"
	"github.com/admesh/admesh/internal/integration"
	"github.com/admesh/admesh/internal/oauth"
	"github.com/admesh/admesh/internal/observability"
	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/scheduler"
	"github.com/admesh/admesh/internal/server"
	"github.com/admesh/admesh/internal/server/routes"
	"github.com/admesh/admesh/internal/syncer"
	"github.com/admesh/admesh/internal/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	log := slog.New(observability.WrapSlogHandler(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOpenTelemetry(ctx, log, observability.OpenTelemetryConfig{
		Enabled:           cfg.Observability.Enabled,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
	})
	if err != nil {
		return fmt.Errorf("setup opentelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Error("otel shutdown failed", "error", err)
		}
	}()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	store := sqlite.New(database)
	registry, err := integration.NewRegistry(store, cfg.Crypto.EncryptionKey, log)
	if err != nil {
		return fmt.Errorf("build integration registry: %w", err)
	}

	adapters := platform.NewRegistry(platform.NewClient(cfg.VendorTimeout()))
	manager := oauth.NewManager(registry, store, adapters, appCredentials(cfg.Apps), log)
	orchestrator := syncer.NewOrchestrator(registry, store, adapters, manager, log, syncer.Options{
		Parallelism:     cfg.Sync.Parallelism,
		PlatformTimeout: cfg.PlatformTimeout(),
	})

	// Webhook reactions re-sync off the request path.
	resync := func(tenantID string, p platform.Platform) {
		go orchestrator.SyncPlatform(context.WithoutCancel(ctx), tenantID, p, nil)
	}
	pipeline := webhook.NewPipeline(registry, store, adapters, resync, log)

	if cfg.Sync.SchedulerEnabled {
		go scheduler.New(store, orchestrator, cfg.Sync.SchedulerInterval, log).Run(ctx)
		go pruneStatesLoop(ctx, manager, log)
	}

	auth := routes.TenantAuth(cfg.Auth.JWTSecret)
	srv := server.New(log)
	srv.RegisterRouter(routes.NewIntegrationRoutes(registry, store, store, auth))
	srv.RegisterRouter(routes.NewSyncRoutes(orchestrator, auth))
	srv.RegisterRouter(routes.NewOAuthRoutes(manager, auth))
	srv.RegisterRouter(routes.NewWebhookRoutes(pipeline))
	srv.RegisterRouter(routes.NewHealthRoutes(database))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()
	log.Info("server started", "port", cfg.Server.Port, "environment", cfg.Environment)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// pruneStatesLoop clears abandoned authorization attempts.
func pruneStatesLoop(ctx context.Context, manager *oauth.Manager, log *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned, err := manager.PruneStates(ctx); err != nil {
				log.Error("failed to prune authorization states", "error", err)
			} else if pruned > 0 {
				log.Info("pruned authorization states", "count", pruned)
			}
		}
	}
}

func appCredentials(apps config.AppsConfig) map[platform.Platform]platform.AppCredentials {
	out := make(map[platform.Platform]platform.AppCredentials, 5)
	for p, app := range map[platform.Platform]config.AppCredential{
		platform.SocialAds:     apps.Facebook,
		platform.SearchAds:     apps.GoogleAds,
		platform.Messaging:     apps.Line,
		platform.ShortVideoAds: apps.TikTok,
		platform.Marketplace:   apps.Shopee,
	} {
		if app.ClientID == "" {
			continue
		}
		out[p] = platform.AppCredentials{ClientID: app.ClientID, ClientSecret: app.ClientSecret}
	}
	return out
}
