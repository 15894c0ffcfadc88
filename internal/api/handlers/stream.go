package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/registry"
)

// StreamHandler upgrades clients to the websocket event stream.
type StreamHandler struct {
	registry *registry.Registry
	config   registry.ClientConfig
	logger   zerolog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(reg *registry.Registry, cfg registry.ClientConfig, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		registry: reg,
		config:   cfg,
		logger:   logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Stream upgrades the connection and attaches it to the event registry.
// Subscriptions to individual devices happen over the socket itself.
// GET /api/v1/stream?tenant_id=...
func (h *StreamHandler) Stream(c *gin.Context) {
	tenantID, ok := queryUUID(c, "tenant_id")
	if !ok {
		return
	}

	if err := registry.ServeClient(h.registry, h.config, c.Writer, c.Request, tenantID, h.logger); err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("websocket upgrade failed")
	}
}
