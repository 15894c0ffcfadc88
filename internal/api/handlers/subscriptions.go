package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/models"
)

// SubscriptionService defines the entitlement operations the subscription endpoints need.
type SubscriptionService interface {
	Create(ctx context.Context, req models.CreateSubscriptionRequest) (*models.Subscription, error)
	Renew(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

// SubscriptionStore defines the read operations the subscription endpoints need.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListSubscriptionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Subscription, error)
}

// SubscriptionsHandler handles subscription-related HTTP endpoints.
type SubscriptionsHandler struct {
	service SubscriptionService
	store   SubscriptionStore
	logger  zerolog.Logger
}

// NewSubscriptionsHandler creates a new SubscriptionsHandler.
func NewSubscriptionsHandler(service SubscriptionService, store SubscriptionStore, logger zerolog.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{
		service: service,
		store:   store,
		logger:  logger.With().Str("component", "subscriptions_handler").Logger(),
	}
}

// RegisterRoutes registers subscription routes on the given router group.
func (h *SubscriptionsHandler) RegisterRoutes(r *gin.RouterGroup) {
	subs := r.Group("/subscriptions")
	{
		subs.POST("", h.Create)
		subs.GET("", h.List)
		subs.GET("/:id", h.Get)
		subs.POST("/:id/actions/renew", h.Renew)
		subs.POST("/:id/actions/cancel", h.Cancel)
	}
}

// Create starts a new subscription.
// POST /api/v1/subscriptions
func (h *SubscriptionsHandler) Create(c *gin.Context) {
	var req models.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	sub, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "license cannot back a subscription"})
		default:
			h.logger.Error().Err(err).Msg("failed to create subscription")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		}
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// List returns all subscriptions for a tenant.
// GET /api/v1/subscriptions?tenant_id=...
func (h *SubscriptionsHandler) List(c *gin.Context) {
	tenantID, ok := queryUUID(c, "tenant_id")
	if !ok {
		return
	}

	subs, err := h.store.ListSubscriptionsByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("failed to list subscriptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subscriptions"})
		return
	}

	if subs == nil {
		subs = []*models.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// Get returns a single subscription.
// GET /api/v1/subscriptions/:id
func (h *SubscriptionsHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	sub, err := h.store.GetSubscription(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		h.logger.Error().Err(err).Str("subscription_id", id.String()).Msg("failed to get subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get subscription"})
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Renew advances a subscription by one billing cycle.
// POST /api/v1/subscriptions/:id/actions/renew
func (h *SubscriptionsHandler) Renew(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	sub, err := h.service.Renew(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		case errors.Is(err, models.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "only active subscriptions can be renewed"})
		default:
			h.logger.Error().Err(err).Str("subscription_id", id.String()).Msg("failed to renew subscription")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to renew subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Cancel cancels a subscription.
// POST /api/v1/subscriptions/:id/actions/cancel
func (h *SubscriptionsHandler) Cancel(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	sub, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		h.logger.Error().Err(err).Str("subscription_id", id.String()).Msg("failed to cancel subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		return
	}

	c.JSON(http.StatusOK, sub)
}
