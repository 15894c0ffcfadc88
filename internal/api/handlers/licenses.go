package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/models"
)

// LicenseService defines the entitlement operations the license endpoints need.
type LicenseService interface {
	Create(ctx context.Context, req models.CreateLicenseRequest) (*models.License, error)
	Activate(ctx context.Context, req models.ActivateLicenseRequest) (*models.License, error)
	Verify(ctx context.Context, key string) (*models.License, error)
	Renew(ctx context.Context, id uuid.UUID, extension time.Duration) (*models.License, error)
	Suspend(ctx context.Context, id uuid.UUID, reason string) (*models.License, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.License, error)
}

// LicenseStore defines the read operations the license endpoints need.
type LicenseStore interface {
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	ListLicensesByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.License, error)
}

// LicensesHandler handles license-related HTTP endpoints.
type LicensesHandler struct {
	service LicenseService
	store   LicenseStore
	logger  zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(service LicenseService, store LicenseStore, logger zerolog.Logger) *LicensesHandler {
	return &LicensesHandler{
		service: service,
		store:   store,
		logger:  logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterRoutes registers license routes on the given router group.
func (h *LicensesHandler) RegisterRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/licenses")
	{
		licenses.POST("", h.Create)
		licenses.GET("", h.List)
		licenses.POST("/activate", h.Activate)
		licenses.GET("/verify/:key", h.Verify)
		licenses.GET("/:id", h.Get)
		licenses.POST("/:id/actions/renew", h.Renew)
		licenses.POST("/:id/actions/suspend", h.Suspend)
		licenses.POST("/:id/actions/cancel", h.Cancel)
	}
}

// Create issues a new license.
// POST /api/v1/licenses
func (h *LicensesHandler) Create(c *gin.Context) {
	var req models.CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	license, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license type"})
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		default:
			h.logger.Error().Err(err).Msg("failed to create license")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
		}
		return
	}

	c.JSON(http.StatusCreated, license)
}

// List returns all licenses for a tenant.
// GET /api/v1/licenses?tenant_id=...
func (h *LicensesHandler) List(c *gin.Context) {
	tenantID, ok := queryUUID(c, "tenant_id")
	if !ok {
		return
	}

	licenses, err := h.store.ListLicensesByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("failed to list licenses")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list licenses"})
		return
	}

	if licenses == nil {
		licenses = []*models.License{}
	}
	c.JSON(http.StatusOK, gin.H{"licenses": licenses})
}

// Get returns a single license.
// GET /api/v1/licenses/:id
func (h *LicensesHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	license, err := h.store.GetLicense(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to get license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get license"})
		return
	}

	c.JSON(http.StatusOK, license)
}

// Activate activates a license by key.
// POST /api/v1/licenses/activate
func (h *LicensesHandler) Activate(c *gin.Context) {
	var req models.ActivateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	license, err := h.service.Activate(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		case errors.Is(err, models.ErrExpired):
			c.JSON(http.StatusGone, gin.H{"error": "license has expired"})
		case errors.Is(err, models.ErrQuotaExceeded):
			c.JSON(http.StatusForbidden, gin.H{"error": "license activation limit reached"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "license cannot be activated in its current state"})
		default:
			h.logger.Error().Err(err).Msg("failed to activate license")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate license"})
		}
		return
	}

	c.JSON(http.StatusOK, license)
}

// Verify checks a license key without consuming an activation.
// GET /api/v1/licenses/verify/:key
func (h *LicensesHandler) Verify(c *gin.Context) {
	key := c.Param("key")

	license, err := h.service.Verify(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Msg("failed to verify license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify license"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":   license.Status == models.LicenseStatusActive,
		"license": license,
	})
}

// Renew extends a license term.
// POST /api/v1/licenses/:id/actions/renew
func (h *LicensesHandler) Renew(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req models.RenewLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	extension := time.Duration(req.ExtensionDays) * 24 * time.Hour
	license, err := h.service.Renew(c.Request.Context(), id, extension)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "cancelled licenses cannot be renewed"})
		default:
			h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to renew license")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to renew license"})
		}
		return
	}

	c.JSON(http.StatusOK, license)
}

// Suspend suspends an active license.
// POST /api/v1/licenses/:id/actions/suspend
func (h *LicensesHandler) Suspend(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req models.SuspendLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	license, err := h.service.Suspend(c.Request.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "only active licenses can be suspended"})
		default:
			h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to suspend license")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to suspend license"})
		}
		return
	}

	c.JSON(http.StatusOK, license)
}

// Cancel permanently cancels a license.
// POST /api/v1/licenses/:id/actions/cancel
func (h *LicensesHandler) Cancel(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	license, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to cancel license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel license"})
		return
	}

	c.JSON(http.StatusOK, license)
}
