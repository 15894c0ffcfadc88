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

// TenantStore defines the persistence operations the tenant endpoints need.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
}

// EntitlementSource resolves a tenant's entitlement expiration date.
type EntitlementSource interface {
	Entitlement(ctx context.Context, tenantID uuid.UUID) (*time.Time, error)
}

// TenantsHandler handles tenant-related HTTP endpoints.
type TenantsHandler struct {
	store        TenantStore
	entitlements EntitlementSource
	logger       zerolog.Logger
}

// NewTenantsHandler creates a new TenantsHandler.
func NewTenantsHandler(store TenantStore, entitlements EntitlementSource, logger zerolog.Logger) *TenantsHandler {
	return &TenantsHandler{
		store:        store,
		entitlements: entitlements,
		logger:       logger.With().Str("component", "tenants_handler").Logger(),
	}
}

// RegisterRoutes registers tenant routes on the given router group.
func (h *TenantsHandler) RegisterRoutes(r *gin.RouterGroup) {
	tenants := r.Group("/tenants")
	{
		tenants.POST("", h.Create)
		tenants.GET("", h.List)
		tenants.GET("/:id", h.Get)
		tenants.GET("/:id/entitlement", h.Entitlement)
		tenants.PUT("/:id", h.Update)
	}
}

type createTenantRequest struct {
	Name       string `json:"name" binding:"required,min=1,max=200"`
	Email      string `json:"email" binding:"required,email"`
	Plan       string `json:"plan,omitempty"`
	MaxDevices int    `json:"max_devices,omitempty" binding:"omitempty,min=0"`
}

// Create provisions a new tenant.
// POST /api/v1/tenants
func (h *TenantsHandler) Create(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	tenant := models.NewTenant(req.Name, req.Email)
	tenant.Plan = req.Plan
	tenant.MaxDevices = req.MaxDevices

	if err := h.store.CreateTenant(c.Request.Context(), tenant); err != nil {
		h.logger.Error().Err(err).Msg("failed to create tenant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create tenant"})
		return
	}

	c.JSON(http.StatusCreated, tenant)
}

// List returns all tenants.
// GET /api/v1/tenants
func (h *TenantsHandler) List(c *gin.Context) {
	tenants, err := h.store.ListTenants(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list tenants")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tenants"})
		return
	}

	if tenants == nil {
		tenants = []*models.Tenant{}
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

// Get returns a single tenant.
// GET /api/v1/tenants/:id
func (h *TenantsHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	tenant, err := h.store.GetTenant(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		h.logger.Error().Err(err).Str("tenant_id", id.String()).Msg("failed to get tenant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get tenant"})
		return
	}

	c.JSON(http.StatusOK, tenant)
}

// Entitlement returns whether the tenant currently holds an active
// subscription term and when it ends.
// GET /api/v1/tenants/:id/entitlement
func (h *TenantsHandler) Entitlement(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	expires, err := h.entitlements.Entitlement(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		h.logger.Error().Err(err).Str("tenant_id", id.String()).Msg("failed to resolve entitlement")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve entitlement"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":  id,
		"entitled":   expires != nil && expires.After(time.Now()),
		"expires_at": expires,
	})
}

type updateTenantRequest struct {
	Name       *string              `json:"name,omitempty" binding:"omitempty,min=1,max=200"`
	Email      *string              `json:"email,omitempty" binding:"omitempty,email"`
	Plan       *string              `json:"plan,omitempty"`
	Status     *models.TenantStatus `json:"status,omitempty" binding:"omitempty,oneof=active blocked inactive"`
	MaxDevices *int                 `json:"max_devices,omitempty" binding:"omitempty,min=0"`
}

// Update modifies tenant settings.
// PUT /api/v1/tenants/:id
func (h *TenantsHandler) Update(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req updateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	tenant, err := h.store.GetTenant(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		h.logger.Error().Err(err).Str("tenant_id", id.String()).Msg("failed to get tenant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get tenant"})
		return
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Email != nil {
		tenant.Email = *req.Email
	}
	if req.Plan != nil {
		tenant.Plan = *req.Plan
	}
	if req.Status != nil {
		tenant.Status = *req.Status
	}
	if req.MaxDevices != nil {
		tenant.MaxDevices = *req.MaxDevices
	}

	if err := h.store.UpdateTenant(c.Request.Context(), tenant); err != nil {
		h.logger.Error().Err(err).Str("tenant_id", id.String()).Msg("failed to update tenant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update tenant"})
		return
	}

	c.JSON(http.StatusOK, tenant)
}
