package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/alerts"
	"github.com/MacJediWizard/fleetguard/internal/locking"
	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SubscriptionStore defines the persistence operations the subscription
// service needs.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	GetRenewableSubscriptions(ctx context.Context, cutoff time.Time) ([]*models.Subscription, error)
	GetLatestSubscriptionEnd(ctx context.Context, tenantID uuid.UUID) (*time.Time, error)
	UpdateTenantEntitlement(ctx context.Context, tenantID uuid.UUID, expiresAt time.Time) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	UpdateLicense(ctx context.Context, license *models.License) error
}

// ExpirationCache caches the tenant cached-expiration date. Cache failures
// never fail the write path; the subscription row is the source of truth.
// Get errors of any kind are treated as misses by the read path.
type ExpirationCache interface {
	Get(ctx context.Context, tenantID string) (time.Time, error)
	Set(ctx context.Context, tenantID string, expiresAt time.Time) error
	Invalidate(ctx context.Context, tenantID string) error
}

// SubscriptionService manages billing subscriptions and owns the denormalized
// cascade into the tenant's cached expiration date.
type SubscriptionService struct {
	store      SubscriptionStore
	cache      ExpirationCache
	dispatcher alerts.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	locks      *locking.KeyedMutex
}

// NewSubscriptionService creates a SubscriptionService. cache may be nil when
// Redis is not configured.
func NewSubscriptionService(store SubscriptionStore, cache ExpirationCache, dispatcher alerts.Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:      store,
		cache:      cache,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With().Str("component", "subscription_service").Logger(),
		locks:      locking.NewKeyedMutex(),
	}
}

// Create starts a subscription whose first term is exactly one billing cycle,
// activates the backing license, and cascades the tenant expiration date.
func (s *SubscriptionService) Create(ctx context.Context, req models.CreateSubscriptionRequest) (*models.Subscription, error) {
	if !req.BillingCycle.IsValid() {
		return nil, fmt.Errorf("billing cycle %q: %w", req.BillingCycle, models.ErrInvalidState)
	}

	license, err := s.store.GetLicense(ctx, req.LicenseID)
	if err != nil {
		return nil, err
	}
	if license.TenantID != req.TenantID {
		return nil, fmt.Errorf("license belongs to another tenant: %w", models.ErrInvalidState)
	}
	if license.Status == models.LicenseStatusCancelled {
		return nil, fmt.Errorf("license cancelled: %w", models.ErrInvalidState)
	}

	sub := models.NewSubscription(req.TenantID, req.LicenseID, req.Plan, req.BillingCycle, req.Amount, req.StartsAt, req.AutoRenew)
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.syncLicense(ctx, license, sub.EndsAt); err != nil {
		return nil, err
	}
	s.cascade(ctx, sub.TenantID)

	s.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("tenant_id", sub.TenantID.String()).
		Str("cycle", string(sub.BillingCycle)).
		Time("ends_at", sub.EndsAt).
		Msg("subscription created")
	return sub, nil
}

// Renew advances the subscription end date by exactly one billing cycle and
// cascades the tenant expiration date.
func (s *SubscriptionService) Renew(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusActive {
		return nil, fmt.Errorf("subscription %s: %w", sub.Status, models.ErrInvalidState)
	}

	sub.Advance()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("renew subscription: %w", err)
	}

	license, err := s.store.GetLicense(ctx, sub.LicenseID)
	if err != nil {
		return nil, err
	}
	if err := s.syncLicense(ctx, license, sub.EndsAt); err != nil {
		return nil, err
	}
	s.cascade(ctx, sub.TenantID)

	s.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Time("ends_at", sub.EndsAt).
		Msg("subscription renewed")
	return sub, nil
}

// Cancel stops a subscription. The current term keeps running until ends_at;
// the cascade recomputes the tenant date from the remaining active
// subscriptions.
func (s *SubscriptionService) Cancel(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return sub, nil
	}

	sub.Status = models.SubscriptionStatusCancelled
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	s.cascade(ctx, sub.TenantID)
	return sub, nil
}

// RenewalSweep alerts and immediately renews every active auto-renew
// subscription ending within the lookahead window. There is no payment
// confirmation gate before the renewal; a billing integration would hold the
// renewal until payment clears.
func (s *SubscriptionService) RenewalSweep(ctx context.Context, lookahead time.Duration) ([]*models.Subscription, error) {
	due, err := s.store.GetRenewableSubscriptions(ctx, time.Now().Add(lookahead))
	if err != nil {
		return nil, fmt.Errorf("renewal sweep: %w", err)
	}

	var renewed []*models.Subscription
	for _, sub := range due {
		s.dispatch(ctx, models.NewAlert(
			models.AlertTypeRenewalDue,
			models.AlertSeverityInfo,
			fmt.Sprintf("subscription %s renews at %s", sub.ID, sub.EndsAt.Format(time.RFC3339)),
		).WithData(map[string]any{
			"subscription_id": sub.ID.String(),
			"tenant_id":       sub.TenantID.String(),
			"ends_at":         sub.EndsAt,
		}))

		result, err := s.Renew(ctx, sub.ID)
		if err != nil {
			s.logger.Error().Err(err).
				Str("subscription_id", sub.ID.String()).
				Msg("auto-renewal failed")
			continue
		}
		renewed = append(renewed, result)
	}
	return renewed, nil
}

// syncLicense aligns the backing license with the subscription term. The
// license expiry only ever moves forward; a manual renewal past the
// subscription term is not shortened.
func (s *SubscriptionService) syncLicense(ctx context.Context, license *models.License, endsAt time.Time) error {
	if license.ExpiresAt == nil || endsAt.After(*license.ExpiresAt) {
		license.ExpiresAt = &endsAt
	}
	if license.Status != models.LicenseStatusActive {
		now := time.Now()
		license.Status = models.LicenseStatusActive
		if license.ActivatedAt == nil {
			license.ActivatedAt = &now
		}
	}
	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return fmt.Errorf("sync license term: %w", err)
	}
	return nil
}

// Entitlement returns the tenant's entitlement expiration date. Redis is
// consulted first; on a miss the tenant row is read and the cache
// repopulated. A nil time means the tenant has no active subscription.
func (s *SubscriptionService) Entitlement(ctx context.Context, tenantID uuid.UUID) (*time.Time, error) {
	if s.cache != nil {
		if expires, err := s.cache.Get(ctx, tenantID.String()); err == nil {
			return &expires, nil
		}
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.EntitlementExpiresAt != nil && s.cache != nil {
		if err := s.cache.Set(ctx, tenantID.String(), *tenant.EntitlementExpiresAt); err != nil {
			s.logger.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("cache set failed")
		}
	}
	return tenant.EntitlementExpiresAt, nil
}

// cascade recomputes and writes the tenant's cached expiration date, in the
// tenants table and in Redis. Failures are logged only; the subscription
// write has already committed and the cache is a read optimization.
func (s *SubscriptionService) cascade(ctx context.Context, tenantID uuid.UUID) {
	latest, err := s.store.GetLatestSubscriptionEnd(ctx, tenantID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Msg("entitlement cascade query failed")
		return
	}
	if latest == nil {
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, tenantID.String()); err != nil {
				s.logger.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("cache invalidate failed")
			}
		}
		return
	}

	if err := s.store.UpdateTenantEntitlement(ctx, tenantID, *latest); err != nil {
		s.logger.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Msg("entitlement cascade write failed")
		return
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, tenantID.String(), *latest); err != nil {
			s.logger.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("cache set failed")
		}
	}
}

func (s *SubscriptionService) dispatch(ctx context.Context, alert *models.Alert) {
	s.metrics.AlertsDispatched.WithLabelValues(string(alert.Type)).Inc()
	s.dispatcher.Dispatch(ctx, alert)
}
