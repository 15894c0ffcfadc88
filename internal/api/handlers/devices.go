// Package handlers implements the Fleetguard HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/models"
)

// DeviceService defines the liveness operations the device endpoints need.
type DeviceService interface {
	Register(ctx context.Context, req models.RegisterDeviceRequest) (*models.Device, error)
	ProcessHeartbeat(ctx context.Context, hb models.Heartbeat) (*models.Device, error)
	Block(ctx context.Context, deviceID uuid.UUID, reason string, severity models.BlockSeverity) (*models.Device, error)
	Unblock(ctx context.Context, deviceID uuid.UUID, by string) (*models.Device, error)
	Stats(ctx context.Context, tenantID uuid.UUID) (*models.DeviceStats, error)
}

// DeviceStore defines the read operations the device endpoints need.
type DeviceStore interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	ListDevicesByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Device, error)
	GetDeviceMetrics(ctx context.Context, deviceID uuid.UUID, limit int) ([]*models.MetricSample, error)
}

// DevicesHandler handles device-related HTTP endpoints.
type DevicesHandler struct {
	service DeviceService
	store   DeviceStore
	logger  zerolog.Logger
}

// NewDevicesHandler creates a new DevicesHandler.
func NewDevicesHandler(service DeviceService, store DeviceStore, logger zerolog.Logger) *DevicesHandler {
	return &DevicesHandler{
		service: service,
		store:   store,
		logger:  logger.With().Str("component", "devices_handler").Logger(),
	}
}

// RegisterRoutes registers device routes on the given router group. Any
// extra middleware applies to the heartbeat endpoint only.
func (h *DevicesHandler) RegisterRoutes(r *gin.RouterGroup, heartbeatMiddleware ...gin.HandlerFunc) {
	devices := r.Group("/devices")
	{
		devices.POST("", h.Register)
		devices.GET("", h.List)
		devices.GET("/stats", h.Stats)
		devices.GET("/:id", h.Get)
		devices.GET("/:id/metrics", h.Metrics)
		devices.POST("/:id/actions/block", h.Block)
		devices.POST("/:id/actions/unblock", h.Unblock)
	}

	r.POST("/heartbeat", append(heartbeatMiddleware, gin.HandlerFunc(h.Heartbeat))...)
}

// Register enrolls a new device.
// POST /api/v1/devices
func (h *DevicesHandler) Register(c *gin.Context) {
	var req models.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	device, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "device identifier already registered"})
		case errors.Is(err, models.ErrQuotaExceeded):
			c.JSON(http.StatusForbidden, gin.H{"error": "tenant device limit reached"})
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		default:
			h.logger.Error().Err(err).Msg("failed to register device")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		}
		return
	}

	c.JSON(http.StatusCreated, device)
}

// List returns all devices for a tenant.
// GET /api/v1/devices?tenant_id=...
func (h *DevicesHandler) List(c *gin.Context) {
	tenantID, ok := queryUUID(c, "tenant_id")
	if !ok {
		return
	}

	devices, err := h.store.ListDevicesByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("failed to list devices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}

	if devices == nil {
		devices = []*models.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// Get returns a single device.
// GET /api/v1/devices/:id
func (h *DevicesHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	device, err := h.store.GetDevice(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error().Err(err).Str("device_id", id.String()).Msg("failed to get device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get device"})
		return
	}

	c.JSON(http.StatusOK, device)
}

// Metrics returns the most recent metric samples for a device.
// GET /api/v1/devices/:id/metrics?limit=...
func (h *DevicesHandler) Metrics(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	samples, err := h.store.GetDeviceMetrics(c.Request.Context(), id, limit)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error().Err(err).Str("device_id", id.String()).Msg("failed to get device metrics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get device metrics"})
		return
	}

	if samples == nil {
		samples = []*models.MetricSample{}
	}
	c.JSON(http.StatusOK, gin.H{"metrics": samples})
}

// Stats returns fleet statistics for a tenant.
// GET /api/v1/devices/stats?tenant_id=...
func (h *DevicesHandler) Stats(c *gin.Context) {
	tenantID, ok := queryUUID(c, "tenant_id")
	if !ok {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("failed to get device stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get device stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

type blockDeviceRequest struct {
	Reason   string               `json:"reason" binding:"required,min=1"`
	Severity models.BlockSeverity `json:"severity" binding:"required,oneof=low medium high critical"`
}

// Block blocks a device.
// POST /api/v1/devices/:id/actions/block
func (h *DevicesHandler) Block(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req blockDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	device, err := h.service.Block(c.Request.Context(), id, req.Reason, req.Severity)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "device is already blocked"})
		default:
			h.logger.Error().Err(err).Str("device_id", id.String()).Msg("failed to block device")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block device"})
		}
		return
	}

	c.JSON(http.StatusOK, device)
}

type unblockDeviceRequest struct {
	By string `json:"by" binding:"required,min=1"`
}

// Unblock lifts a device block.
// POST /api/v1/devices/:id/actions/unblock
func (h *DevicesHandler) Unblock(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req unblockDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	device, err := h.service.Unblock(c.Request.Context(), id, req.By)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "device is not blocked"})
		default:
			h.logger.Error().Err(err).Str("device_id", id.String()).Msg("failed to unblock device")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock device"})
		}
		return
	}

	c.JSON(http.StatusOK, device)
}

// Heartbeat ingests a device liveness report.
// POST /api/v1/heartbeat
func (h *DevicesHandler) Heartbeat(c *gin.Context) {
	var hb models.Heartbeat
	if err := c.ShouldBindJSON(&hb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	device, err := h.service.ProcessHeartbeat(c.Request.Context(), hb)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device status"})
		default:
			h.logger.Error().Err(err).Str("device", hb.UniqueIdentifier).Msg("failed to process heartbeat")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process heartbeat"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": device.ID,
		"status":    string(device.Status),
	})
}

// paramUUID parses a UUID path parameter, writing a 400 response on failure.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses a UUID query parameter, writing a 400 response on failure.
func queryUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
