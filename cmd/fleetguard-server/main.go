// Package main is the entrypoint for the Fleetguard server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/alerts"
	"github.com/MacJediWizard/fleetguard/internal/api"
	"github.com/MacJediWizard/fleetguard/internal/cache"
	"github.com/MacJediWizard/fleetguard/internal/config"
	"github.com/MacJediWizard/fleetguard/internal/db"
	"github.com/MacJediWizard/fleetguard/internal/entitlement"
	"github.com/MacJediWizard/fleetguard/internal/liveness"
	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/MacJediWizard/fleetguard/internal/monitoring"
	"github.com/MacJediWizard/fleetguard/internal/registry"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Fleetguard server")

	cfg := config.LoadServerConfig()

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	dbCfg.MaxConns = int32(cfg.DBMaxConns)
	database, err := db.New(ctx, dbCfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Entitlement cache is optional; without Redis the cascade only touches
	// the tenant row.
	var expCache entitlement.ExpirationCache
	if cfg.RedisAddr != "" {
		entCache, err := cache.New(ctx, cache.DefaultConfig(cfg.RedisAddr), logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to Redis")
			return 1
		}
		defer entCache.Close()
		expCache = entCache
	} else {
		logger.Info().Msg("REDIS_ADDR not set, entitlement cache disabled")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	var dispatcher alerts.Dispatcher = alerts.NewLogDispatcher(logger)
	if cfg.AlertWebhookURL != "" {
		dispatcher = alerts.Multi{
			alerts.NewLogDispatcher(logger),
			alerts.NewWebhookDispatcher(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, logger),
		}
	}

	reg := registry.New(m, logger)
	tracker := liveness.NewTracker(database, reg, dispatcher, m, logger)
	licenses := entitlement.NewLicenseService(database, dispatcher, m, logger)
	subscriptions := entitlement.NewSubscriptionService(database, expCache, dispatcher, m, logger)

	monitorCfg := monitoring.DefaultConfig()
	monitorCfg.StaleThreshold = cfg.StaleThreshold
	monitorCfg.LicenseLookahead = cfg.LicenseLookahead
	monitorCfg.RenewalLookahead = cfg.RenewalLookahead
	monitor := monitoring.New(monitorCfg, tracker, licenses, subscriptions, database, m, logger)

	allowedOrigins := []string{}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		allowedOrigins = strings.Split(v, ",")
	}

	router := api.NewRouter(api.Config{
		Environment:        cfg.Environment,
		CORSEnabled:        cfg.CORSEnabled,
		AllowedOrigins:     allowedOrigins,
		APIKey:             cfg.APIKey,
		HeartbeatRateLimit: int64(cfg.HeartbeatRateLimit),
		Version:            Version,
	}, database, tracker, licenses, subscriptions, reg, promReg, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	if err := monitor.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start monitor")
	}
	defer monitor.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
