// Package entitlement drives the license and subscription state machines.
//
// License expiry is detected lazily: there is no per-license timer. A license
// flips to expired when Verify, Activate, or the expiry sweep observes a past
// expiry date, so expiry latency is bounded by whichever check runs first.
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

// LicenseStore defines the persistence operations the license service needs.
type LicenseStore interface {
	CreateLicense(ctx context.Context, license *models.License) error
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	UpdateLicense(ctx context.Context, license *models.License) error
	GetExpiringLicenses(ctx context.Context, cutoff time.Time) ([]*models.License, error)
	GetDeviceByIdentifier(ctx context.Context, identifier string) (*models.Device, error)
	CreateBlockRecord(ctx context.Context, record *models.BlockRecord) error
}

// LicenseService applies license lifecycle transitions.
type LicenseService struct {
	store      LicenseStore
	dispatcher alerts.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	locks      *locking.KeyedMutex
}

// NewLicenseService creates a LicenseService.
func NewLicenseService(store LicenseStore, dispatcher alerts.Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *LicenseService {
	return &LicenseService{
		store:      store,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With().Str("component", "license_service").Logger(),
		locks:      locking.NewKeyedMutex(),
	}
}

// Create issues a new pending license.
func (s *LicenseService) Create(ctx context.Context, req models.CreateLicenseRequest) (*models.License, error) {
	if !req.Type.IsValid() {
		return nil, fmt.Errorf("license type %q: %w", req.Type, models.ErrInvalidState)
	}

	license, err := models.NewLicense(req.TenantID, req.DeviceID, req.Type, req.UsageLimit)
	if err != nil {
		return nil, fmt.Errorf("generate license: %w", err)
	}
	if err := s.store.CreateLicense(ctx, license); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("license_id", license.ID.String()).
		Str("tenant_id", license.TenantID.String()).
		Str("type", string(license.Type)).
		Msg("license created")
	return license, nil
}

// Activate consumes one activation of the license identified by key.
// Activating an already active license is an idempotent no-op that does not
// touch the usage count.
func (s *LicenseService) Activate(ctx context.Context, req models.ActivateLicenseRequest) (*models.License, error) {
	if req.DeviceID == nil && req.UniqueIdentifier != "" {
		device, err := s.store.GetDeviceByIdentifier(ctx, req.UniqueIdentifier)
		if err != nil {
			return nil, fmt.Errorf("resolve device %q: %w", req.UniqueIdentifier, err)
		}
		req.DeviceID = &device.ID
	}

	license, err := s.store.GetLicenseByKey(ctx, req.Key)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(license.ID)
	defer unlock()

	license, err = s.store.GetLicense(ctx, license.ID)
	if err != nil {
		return nil, err
	}

	switch license.Status {
	case models.LicenseStatusActive:
		return license, nil
	case models.LicenseStatusCancelled:
		return nil, fmt.Errorf("license cancelled: %w", models.ErrInvalidState)
	case models.LicenseStatusSuspended:
		return nil, fmt.Errorf("license suspended: %w", models.ErrInvalidState)
	case models.LicenseStatusExpired:
		return nil, fmt.Errorf("license: %w", models.ErrExpired)
	}

	now := time.Now()
	if license.IsExpiredAt(now) {
		s.expire(ctx, license)
		return nil, fmt.Errorf("license: %w", models.ErrExpired)
	}
	if license.QuotaReached() {
		return nil, fmt.Errorf("usage %d of %d: %w", license.UsageCount, license.UsageLimit, models.ErrQuotaExceeded)
	}

	license.Status = models.LicenseStatusActive
	license.ActivatedAt = &now
	license.UsageCount++
	if req.DeviceID != nil {
		license.DeviceID = req.DeviceID
	}
	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("activate license: %w", err)
	}

	s.logger.Info().
		Str("license_id", license.ID.String()).
		Int("usage_count", license.UsageCount).
		Msg("license activated")
	return license, nil
}

// Verify returns the current state of the license identified by key. As a
// side effect it lazily expires an active license whose expiry date has
// passed.
func (s *LicenseService) Verify(ctx context.Context, key string) (*models.License, error) {
	license, err := s.store.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if license.Status != models.LicenseStatusActive || !license.IsExpiredAt(time.Now()) {
		return license, nil
	}

	unlock := s.locks.Lock(license.ID)
	defer unlock()

	license, err = s.store.GetLicense(ctx, license.ID)
	if err != nil {
		return nil, err
	}
	if license.Status == models.LicenseStatusActive && license.IsExpiredAt(time.Now()) {
		s.expire(ctx, license)
	}
	return license, nil
}

// expire transitions an active license to expired and raises one alert.
// Callers must hold the license lock.
func (s *LicenseService) expire(ctx context.Context, license *models.License) {
	license.Status = models.LicenseStatusExpired
	if err := s.store.UpdateLicense(ctx, license); err != nil {
		s.logger.Error().Err(err).
			Str("license_id", license.ID.String()).
			Msg("failed to persist license expiry")
		return
	}

	s.dispatch(ctx, models.NewAlert(
		models.AlertTypeLicenseExpired,
		models.AlertSeverityCritical,
		fmt.Sprintf("license %s expired", license.Key),
	).WithData(map[string]any{
		"license_id": license.ID.String(),
		"tenant_id":  license.TenantID.String(),
		"expired_at": license.ExpiresAt,
	}))
}

// Renew extends the license term. The new expiry is computed from whichever
// is later, the current expiry or now, so renewing never shortens the
// remaining term. Renewal reactivates suspended and expired licenses.
func (s *LicenseService) Renew(ctx context.Context, id uuid.UUID, extension time.Duration) (*models.License, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	license, err := s.store.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status == models.LicenseStatusCancelled {
		return nil, fmt.Errorf("license cancelled: %w", models.ErrInvalidState)
	}

	now := time.Now()
	base := now
	if license.ExpiresAt != nil && license.ExpiresAt.After(now) {
		base = *license.ExpiresAt
	}
	expires := base.Add(extension)

	license.ExpiresAt = &expires
	license.Status = models.LicenseStatusActive
	license.RenewedAt = &now
	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("renew license: %w", err)
	}

	s.logger.Info().
		Str("license_id", license.ID.String()).
		Time("expires_at", expires).
		Msg("license renewed")
	return license, nil
}

// Suspend administratively suspends an active license and records why.
func (s *LicenseService) Suspend(ctx context.Context, id uuid.UUID, reason string) (*models.License, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	license, err := s.store.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status != models.LicenseStatusActive {
		return nil, fmt.Errorf("license %s: %w", license.Status, models.ErrInvalidState)
	}

	license.Status = models.LicenseStatusSuspended
	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("suspend license: %w", err)
	}

	record := models.NewBlockRecord(license.TenantID, license.DeviceID, reason, models.BlockSeverityHigh)
	if err := s.store.CreateBlockRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("create block record: %w", err)
	}

	s.dispatch(ctx, models.NewAlert(
		models.AlertTypeLicenseSuspended,
		models.AlertSeverityCritical,
		fmt.Sprintf("license %s suspended: %s", license.Key, reason),
	).WithData(map[string]any{
		"license_id": license.ID.String(),
		"tenant_id":  license.TenantID.String(),
		"reason":     reason,
	}))
	return license, nil
}

// Cancel permanently cancels a license. Cancelled licenses cannot be
// activated or renewed.
func (s *LicenseService) Cancel(ctx context.Context, id uuid.UUID) (*models.License, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	license, err := s.store.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status == models.LicenseStatusCancelled {
		return license, nil
	}

	license.Status = models.LicenseStatusCancelled
	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("cancel license: %w", err)
	}
	return license, nil
}

// ExpirySweep alerts on active licenses expiring within the lookahead window.
// It never transitions state; transitions happen only via Verify, Activate,
// or lazy detection.
func (s *LicenseService) ExpirySweep(ctx context.Context, lookahead time.Duration) ([]*models.License, error) {
	licenses, err := s.store.GetExpiringLicenses(ctx, time.Now().Add(lookahead))
	if err != nil {
		return nil, fmt.Errorf("expiry sweep: %w", err)
	}

	for _, license := range licenses {
		s.dispatch(ctx, models.NewAlert(
			models.AlertTypeLicenseExpiring,
			models.AlertSeverityWarning,
			fmt.Sprintf("license %s expires at %s", license.Key, license.ExpiresAt.Format(time.RFC3339)),
		).WithData(map[string]any{
			"license_id": license.ID.String(),
			"tenant_id":  license.TenantID.String(),
			"expires_at": license.ExpiresAt,
		}))
	}
	return licenses, nil
}

func (s *LicenseService) dispatch(ctx context.Context, alert *models.Alert) {
	s.metrics.AlertsDispatched.WithLabelValues(string(alert.Type)).Inc()
	s.dispatcher.Dispatch(ctx, alert)
}
