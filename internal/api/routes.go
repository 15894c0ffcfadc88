// Package api provides the HTTP API for the Fleetguard server.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/api/handlers"
	"github.com/MacJediWizard/fleetguard/internal/api/middleware"
	"github.com/MacJediWizard/fleetguard/internal/config"
	"github.com/MacJediWizard/fleetguard/internal/db"
	"github.com/MacJediWizard/fleetguard/internal/entitlement"
	"github.com/MacJediWizard/fleetguard/internal/liveness"
	"github.com/MacJediWizard/fleetguard/internal/registry"
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// CORSEnabled toggles the CORS middleware. Disable when a reverse proxy
	// in front of the server already handles it.
	CORSEnabled bool
	// AllowedOrigins for CORS. Empty means all origins allowed outside production.
	AllowedOrigins []string
	// APIKey authenticates API requests. Empty disables auth.
	APIKey string
	// HeartbeatRateLimit caps heartbeat requests per client IP per minute.
	// 0 disables the limit.
	HeartbeatRateLimit int64
	// Version information for the health endpoint.
	Version string
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	database *db.DB,
	tracker *liveness.Tracker,
	licenses *entitlement.LicenseService,
	subscriptions *entitlement.SubscriptionService,
	reg *registry.Registry,
	gatherer prometheus.Gatherer,
	logger zerolog.Logger,
) *Router {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	if cfg.CORSEnabled {
		r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))
	}

	health := handlers.NewHealthHandler(database, cfg.Version)
	r.Engine.GET("/health", health.Health)

	r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Engine.Group("/api/v1")
	v1.Use(middleware.APIKey(cfg.APIKey, logger))

	var heartbeatMiddleware []gin.HandlerFunc
	if cfg.HeartbeatRateLimit > 0 {
		heartbeatMiddleware = append(heartbeatMiddleware, middleware.RateLimit(cfg.HeartbeatRateLimit, time.Minute))
	}

	handlers.NewTenantsHandler(database, subscriptions, logger).RegisterRoutes(v1)
	handlers.NewDevicesHandler(tracker, database, logger).RegisterRoutes(v1, heartbeatMiddleware...)
	handlers.NewLicensesHandler(licenses, database, logger).RegisterRoutes(v1)
	handlers.NewSubscriptionsHandler(subscriptions, database, logger).RegisterRoutes(v1)

	stream := handlers.NewStreamHandler(reg, registry.DefaultClientConfig(), logger)
	v1.GET("/stream", stream.Stream)

	return r
}
