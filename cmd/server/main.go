// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/channelmetrics/internal/api"
	"github.com/tomtom215/channelmetrics/internal/auth"
	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/database"
	"github.com/tomtom215/channelmetrics/internal/events"
	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/reporting"
	"github.com/tomtom215/channelmetrics/internal/supervisor"
	"github.com/tomtom215/channelmetrics/internal/supervisor/services"
	ws "github.com/tomtom215/channelmetrics/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	if len(os.Args) > 1 && os.Args[1] == encryptSecretCommand {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			key = os.Getenv("JWT_SECRET")
		}
		if err := encryptSecret(key, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "encrypt-secret:", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Channelmetrics with supervisor tree")
	logging.Info().
		Str("reporting_url", cfg.Reporting.BaseURL).
		Str("db_path", cfg.Database.Path).
		Str("auth_mode", cfg.Security.AuthMode).
		Int("report_kinds", len(cfg.Reporting.Kinds())).
		Str("refresh_token", config.MaskSecret(cfg.Reporting.RefreshToken)).
		Msg("Configuration loaded")
	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("Wildcard CORS origin combined with authentication")
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	kv, err := ingest.OpenBadger(&cfg.Store)
	if err != nil {
		_ = db.Close()
		logging.Fatal().Err(err).Msg("Failed to open raw payload store")
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing raw payload store")
		}
	}()
	kvStore := ingest.NewBadgerStore(kv)

	// Reporting client behind a circuit breaker; the downloader layers
	// retry, backoff and token refresh on top.
	refresher := reporting.NewOAuthRefresher(&cfg.Reporting)
	reportAPI := reporting.NewCircuitBreakerClient(reporting.NewClient(&cfg.Reporting))
	downloaderOpts := append(reporting.ConfigOptions(&cfg.Reporting), reporting.WithRefresher(refresher))
	downloader := reporting.NewDownloader(reportAPI, downloaderOpts...)

	bus := events.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	orch := ingest.NewOrchestrator(cfg, downloader, db,
		ingest.WithRawStore(kvStore),
		ingest.WithJobHistory(kvStore),
		ingest.WithPublisher(bus),
	)

	wsHub := ws.NewHub()

	var jwtManager *auth.JWTManager
	if cfg.Security.AuthMode == auth.ModeJWT {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
	}
	authMiddleware := auth.NewMiddleware(jwtManager, cfg.Security.AuthMode)

	handler := api.NewHandler(orch, db, wsHub, cfg)
	router := api.NewRouter(handler, authMiddleware, api.NewChiMiddlewareFromConfig(&cfg.Security))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridges zerolog to slog for sutureslog
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	// Pipeline layer
	tree.AddPipelineService(services.NewEventRouterService(
		services.NewEventsRouterFactory(bus, map[string]func(*events.JobEvent){
			"websocket": wsHub.BroadcastEvent,
		}),
	))
	switch {
	case !cfg.Schedule.DailyImportEnabled:
		logging.Info().Msg("Scheduled daily import disabled")
	case cfg.Reporting.RefreshToken == "":
		logging.Warn().Msg("Scheduled daily import enabled but no refresh token is configured; skipping")
	default:
		tree.AddPipelineService(services.NewDailyImportService(
			orch, refresher, cfg.Reporting.RefreshToken, cfg.Schedule.DailyImportInterval,
		))
		logging.Info().Dur("interval", cfg.Schedule.DailyImportInterval).Msg("Scheduled daily import added to supervisor tree")
	}

	// Stream layer
	tree.AddStreamService(wsHub)

	// API layer
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	// Running backfills finish their current date and are recorded as cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Backfill jobs did not stop before the shutdown timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}
