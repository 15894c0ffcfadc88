package entitlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type mockStore struct {
	mu            sync.Mutex
	licenses      map[uuid.UUID]*models.License
	byKey         map[string]uuid.UUID
	subscriptions map[uuid.UUID]*models.Subscription
	blocks        []*models.BlockRecord
	tenants       map[uuid.UUID]*models.Tenant
	tenantExpiry  map[uuid.UUID]time.Time
	devices       map[string]*models.Device
}

func newMockStore() *mockStore {
	return &mockStore{
		licenses:      make(map[uuid.UUID]*models.License),
		byKey:         make(map[string]uuid.UUID),
		subscriptions: make(map[uuid.UUID]*models.Subscription),
		tenants:       make(map[uuid.UUID]*models.Tenant),
		tenantExpiry:  make(map[uuid.UUID]time.Time),
		devices:       make(map[string]*models.Device),
	}
}

func (s *mockStore) addTenant(tenant *models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tenant
	s.tenants[tenant.ID] = &copied
}

func (s *mockStore) addDevice(device *models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *device
	s.devices[device.UniqueIdentifier] = &copied
}

func (s *mockStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *tenant
	if expiry, ok := s.tenantExpiry[id]; ok {
		e := expiry
		copied.EntitlementExpiresAt = &e
	}
	return &copied, nil
}

func (s *mockStore) GetDeviceByIdentifier(_ context.Context, identifier string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

func (s *mockStore) CreateLicense(_ context.Context, license *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *license
	s.licenses[license.ID] = &copied
	s.byKey[license.Key] = license.ID
	return nil
}

func (s *mockStore) GetLicense(_ context.Context, id uuid.UUID) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *license
	return &copied, nil
}

func (s *mockStore) GetLicenseByKey(_ context.Context, key string) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s.licenses[id]
	return &copied, nil
}

func (s *mockStore) UpdateLicense(_ context.Context, license *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[license.ID]; !ok {
		return models.ErrNotFound
	}
	copied := *license
	s.licenses[license.ID] = &copied
	return nil
}

func (s *mockStore) GetExpiringLicenses(_ context.Context, cutoff time.Time) ([]*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the SQL window: expiry inside (now, cutoff].
	now := time.Now()
	var expiring []*models.License
	for _, license := range s.licenses {
		if license.Status == models.LicenseStatusActive && license.ExpiresAt != nil &&
			license.ExpiresAt.After(now) && !license.ExpiresAt.After(cutoff) {
			copied := *license
			expiring = append(expiring, &copied)
		}
	}
	return expiring, nil
}

func (s *mockStore) CreateBlockRecord(_ context.Context, record *models.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, record)
	return nil
}

func (s *mockStore) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sub
	s.subscriptions[sub.ID] = &copied
	return nil
}

func (s *mockStore) GetSubscription(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (s *mockStore) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return models.ErrNotFound
	}
	copied := *sub
	s.subscriptions[sub.ID] = &copied
	return nil
}

func (s *mockStore) GetRenewableSubscriptions(_ context.Context, cutoff time.Time) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the SQL window: term end inside (now, cutoff].
	now := time.Now()
	var due []*models.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == models.SubscriptionStatusActive && sub.AutoRenew &&
			sub.EndsAt.After(now) && !sub.EndsAt.After(cutoff) {
			copied := *sub
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (s *mockStore) GetLatestSubscriptionEnd(_ context.Context, tenantID uuid.UUID) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, sub := range s.subscriptions {
		if sub.TenantID != tenantID || sub.Status != models.SubscriptionStatusActive {
			continue
		}
		if latest == nil || sub.EndsAt.After(*latest) {
			end := sub.EndsAt
			latest = &end
		}
	}
	return latest, nil
}

func (s *mockStore) UpdateTenantEntitlement(_ context.Context, tenantID uuid.UUID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantExpiry[tenantID] = expiresAt
	return nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (d *mockDispatcher) Dispatch(_ context.Context, alert *models.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, alert)
}

func (d *mockDispatcher) byType(alertType models.AlertType) []*models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matched []*models.Alert
	for _, a := range d.alerts {
		if a.Type == alertType {
			matched = append(matched, a)
		}
	}
	return matched
}

type mockCache struct {
	mu          sync.Mutex
	values      map[string]time.Time
	invalidated []string
}

func newMockCache() *mockCache {
	return &mockCache{values: make(map[string]time.Time)}
}

func (c *mockCache) Get(_ context.Context, tenantID string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires, ok := c.values[tenantID]
	if !ok {
		return time.Time{}, errors.New("cache miss")
	}
	return expires, nil
}

func (c *mockCache) Set(_ context.Context, tenantID string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[tenantID] = expiresAt
	return nil
}

func (c *mockCache) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, tenantID)
	c.invalidated = append(c.invalidated, tenantID)
	return nil
}

func newTestLicenseService(store *mockStore) (*LicenseService, *mockDispatcher) {
	dispatcher := &mockDispatcher{}
	svc := NewLicenseService(store, dispatcher, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	return svc, dispatcher
}

func newTestSubscriptionService(store *mockStore) (*SubscriptionService, *mockDispatcher, *mockCache) {
	dispatcher := &mockDispatcher{}
	cache := newMockCache()
	svc := NewSubscriptionService(store, cache, dispatcher, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	return svc, dispatcher, cache
}

func createLicense(t *testing.T, store *mockStore, licType models.LicenseType, usageLimit int) *models.License {
	t.Helper()
	license, err := models.NewLicense(uuid.New(), nil, licType, usageLimit)
	if err != nil {
		t.Fatalf("NewLicense: %v", err)
	}
	if err := store.CreateLicense(context.Background(), license); err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
	return license
}

func TestActivateIsIdempotentOnceActive(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypePerpetual, 5)
	svc, _ := newTestLicenseService(store)
	ctx := context.Background()

	first, err := svc.Activate(ctx, models.ActivateLicenseRequest{Key: license.Key})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if first.Status != models.LicenseStatusActive || first.UsageCount != 1 {
		t.Fatalf("after first activate: status=%s usage=%d", first.Status, first.UsageCount)
	}

	second, err := svc.Activate(ctx, models.ActivateLicenseRequest{Key: license.Key})
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	if second.UsageCount != 1 {
		t.Errorf("usage after second activate = %d, want 1", second.UsageCount)
	}
}

func TestActivateQuotaExceeded(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypePerpetual, 3)
	license.Status = models.LicenseStatusPending
	license.UsageCount = 3
	store.UpdateLicense(context.Background(), license)
	svc, _ := newTestLicenseService(store)

	_, err := svc.Activate(context.Background(), models.ActivateLicenseRequest{Key: license.Key})
	if !errors.Is(err, models.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	unchanged, _ := store.GetLicense(context.Background(), license.ID)
	if unchanged.Status != models.LicenseStatusPending || unchanged.UsageCount != 3 {
		t.Errorf("state changed on quota failure: status=%s usage=%d", unchanged.Status, unchanged.UsageCount)
	}
}

func TestActivateCancelledFails(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypePerpetual, 0)
	license.Status = models.LicenseStatusCancelled
	store.UpdateLicense(context.Background(), license)
	svc, _ := newTestLicenseService(store)

	_, err := svc.Activate(context.Background(), models.ActivateLicenseRequest{Key: license.Key})
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestActivateLazilyExpires(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeTemporary, 0)
	past := time.Now().Add(-time.Hour)
	license.ExpiresAt = &past
	store.UpdateLicense(context.Background(), license)
	svc, dispatcher := newTestLicenseService(store)

	_, err := svc.Activate(context.Background(), models.ActivateLicenseRequest{Key: license.Key})
	if !errors.Is(err, models.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}

	stored, _ := store.GetLicense(context.Background(), license.ID)
	if stored.Status != models.LicenseStatusExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
	if got := len(dispatcher.byType(models.AlertTypeLicenseExpired)); got != 1 {
		t.Errorf("expired alerts = %d, want 1", got)
	}
}

func TestVerifyLazilyExpiresOnce(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeTemporary, 0)
	now := time.Now()
	past := now.Add(-24 * time.Hour)
	license.Status = models.LicenseStatusActive
	license.ActivatedAt = &past
	license.ExpiresAt = &past
	store.UpdateLicense(context.Background(), license)
	svc, dispatcher := newTestLicenseService(store)

	got, err := svc.Verify(context.Background(), license.Key)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Status != models.LicenseStatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	if alerts := len(dispatcher.byType(models.AlertTypeLicenseExpired)); alerts != 1 {
		t.Errorf("expired alerts = %d, want 1", alerts)
	}

	// A second verify reports expired without another alert.
	got, err = svc.Verify(context.Background(), license.Key)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if got.Status != models.LicenseStatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	if alerts := len(dispatcher.byType(models.AlertTypeLicenseExpired)); alerts != 1 {
		t.Errorf("expired alerts after second verify = %d, want 1", alerts)
	}
}

func TestRenewNeverShortensTerm(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeTemporary, 0)
	future := time.Now().Add(10 * 24 * time.Hour)
	license.Status = models.LicenseStatusActive
	license.ExpiresAt = &future
	store.UpdateLicense(context.Background(), license)
	svc, _ := newTestLicenseService(store)

	renewed, err := svc.Renew(context.Background(), license.ID, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}

	want := future.Add(30 * 24 * time.Hour)
	if !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", renewed.ExpiresAt, want)
	}
	if renewed.RenewedAt == nil {
		t.Error("renewed_at not set")
	}
}

func TestRenewReactivatesExpired(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeTemporary, 0)
	past := time.Now().Add(-24 * time.Hour)
	license.Status = models.LicenseStatusExpired
	license.ExpiresAt = &past
	store.UpdateLicense(context.Background(), license)
	svc, _ := newTestLicenseService(store)

	renewed, err := svc.Renew(context.Background(), license.ID, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.Status != models.LicenseStatusActive {
		t.Errorf("status = %s, want active", renewed.Status)
	}
	// The stale term is discarded; the new term runs from now.
	if remaining := time.Until(*renewed.ExpiresAt); remaining < 29*24*time.Hour {
		t.Errorf("remaining term = %v, want about 30 days", remaining)
	}
}

func TestSuspendCreatesBlockRecord(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypePerpetual, 0)
	license.Status = models.LicenseStatusActive
	store.UpdateLicense(context.Background(), license)
	svc, dispatcher := newTestLicenseService(store)

	suspended, err := svc.Suspend(context.Background(), license.ID, "chargeback")
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if suspended.Status != models.LicenseStatusSuspended {
		t.Errorf("status = %s, want suspended", suspended.Status)
	}

	store.mu.Lock()
	blockCount := len(store.blocks)
	store.mu.Unlock()
	if blockCount != 1 {
		t.Errorf("block records = %d, want 1", blockCount)
	}
	if got := len(dispatcher.byType(models.AlertTypeLicenseSuspended)); got != 1 {
		t.Errorf("suspended alerts = %d, want 1", got)
	}
}

func TestExpirySweepAlertsWithoutTransition(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeTemporary, 0)
	soon := time.Now().Add(2 * 24 * time.Hour)
	license.Status = models.LicenseStatusActive
	license.ExpiresAt = &soon
	store.UpdateLicense(context.Background(), license)
	svc, dispatcher := newTestLicenseService(store)

	expiring, err := svc.ExpirySweep(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("ExpirySweep: %v", err)
	}
	if len(expiring) != 1 {
		t.Fatalf("expiring = %d, want 1", len(expiring))
	}
	if got := len(dispatcher.byType(models.AlertTypeLicenseExpiring)); got != 1 {
		t.Errorf("expiring alerts = %d, want 1", got)
	}

	stored, _ := store.GetLicense(context.Background(), license.ID)
	if stored.Status != models.LicenseStatusActive {
		t.Errorf("sweep transitioned status to %s", stored.Status)
	}
}

func TestSubscriptionCreateCascades(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeSubscription, 0)
	svc, _, cache := newTestSubscriptionService(store)
	ctx := context.Background()

	starts := time.Now()
	sub, err := svc.Create(ctx, models.CreateSubscriptionRequest{
		TenantID:     license.TenantID,
		LicenseID:    license.ID,
		Plan:         "pro",
		BillingCycle: models.BillingCycleMonthly,
		Amount:       49.90,
		StartsAt:     starts,
		AutoRenew:    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := starts.Add(30 * 24 * time.Hour)
	if !sub.EndsAt.Equal(want) {
		t.Errorf("ends_at = %v, want %v", sub.EndsAt, want)
	}

	store.mu.Lock()
	tenantExpiry, ok := store.tenantExpiry[license.TenantID]
	store.mu.Unlock()
	if !ok || !tenantExpiry.Equal(sub.EndsAt) {
		t.Errorf("tenant entitlement = %v, want %v", tenantExpiry, sub.EndsAt)
	}

	cache.mu.Lock()
	cached, ok := cache.values[license.TenantID.String()]
	cache.mu.Unlock()
	if !ok || !cached.Equal(sub.EndsAt) {
		t.Errorf("cached entitlement = %v, want %v", cached, sub.EndsAt)
	}

	stored, _ := store.GetLicense(ctx, license.ID)
	if stored.Status != models.LicenseStatusActive {
		t.Errorf("license status = %s, want active", stored.Status)
	}
	if stored.ExpiresAt == nil || !stored.ExpiresAt.Equal(sub.EndsAt) {
		t.Errorf("license expires_at = %v, want %v", stored.ExpiresAt, sub.EndsAt)
	}
}

func TestRenewalSweepScenario(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeSubscription, 0)
	svc, dispatcher, _ := newTestSubscriptionService(store)
	ctx := context.Background()

	// Monthly subscription 28 days in, ending in 2 days.
	starts := time.Now().Add(-28 * 24 * time.Hour)
	sub, err := svc.Create(ctx, models.CreateSubscriptionRequest{
		TenantID:     license.TenantID,
		LicenseID:    license.ID,
		Plan:         "pro",
		BillingCycle: models.BillingCycleMonthly,
		Amount:       49.90,
		StartsAt:     starts,
		AutoRenew:    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	originalEnd := sub.EndsAt

	renewed, err := svc.RenewalSweep(ctx, 3*24*time.Hour)
	if err != nil {
		t.Fatalf("RenewalSweep: %v", err)
	}
	if len(renewed) != 1 {
		t.Fatalf("renewed = %d, want 1", len(renewed))
	}

	want := originalEnd.Add(30 * 24 * time.Hour)
	if !renewed[0].EndsAt.Equal(want) {
		t.Errorf("ends_at = %v, want %v", renewed[0].EndsAt, want)
	}
	if got := len(dispatcher.byType(models.AlertTypeRenewalDue)); got != 1 {
		t.Errorf("renewal-due alerts = %d, want 1", got)
	}

	// A subscription outside the window is untouched by a second sweep.
	again, err := svc.RenewalSweep(ctx, 3*24*time.Hour)
	if err != nil {
		t.Fatalf("second RenewalSweep: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second sweep renewed %d, want 0", len(again))
	}
}

func TestSubscriptionCancelRecomputesCascade(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeSubscription, 0)
	svc, _, cache := newTestSubscriptionService(store)
	ctx := context.Background()

	sub, err := svc.Create(ctx, models.CreateSubscriptionRequest{
		TenantID:     license.TenantID,
		LicenseID:    license.ID,
		Plan:         "pro",
		BillingCycle: models.BillingCycleAnnual,
		Amount:       499,
		StartsAt:     time.Now(),
		AutoRenew:    false,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.SubscriptionStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	// No active subscriptions remain, so the cached date is invalidated.
	cache.mu.Lock()
	_, present := cache.values[license.TenantID.String()]
	cache.mu.Unlock()
	if present {
		t.Error("cache entry still present after cancel")
	}
}

func TestActivateResolvesDeviceIdentifier(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypePerpetual, 0)
	device := models.NewDevice(license.TenantID, "kiosk-01", "machine-001")
	store.addDevice(device)
	svc, _ := newTestLicenseService(store)

	activated, err := svc.Activate(context.Background(), models.ActivateLicenseRequest{
		Key:              license.Key,
		UniqueIdentifier: device.UniqueIdentifier,
	})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if activated.DeviceID == nil || *activated.DeviceID != device.ID {
		t.Errorf("device_id = %v, want %s", activated.DeviceID, device.ID)
	}

	_, err = svc.Activate(context.Background(), models.ActivateLicenseRequest{
		Key:              license.Key,
		UniqueIdentifier: "unregistered",
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRenewalSweepSkipsLapsedSubscription(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeSubscription, 0)
	svc, dispatcher, _ := newTestSubscriptionService(store)
	ctx := context.Background()

	// A term that ended two months ago is not picked up for catch-up renewals.
	sub, err := svc.Create(ctx, models.CreateSubscriptionRequest{
		TenantID:     license.TenantID,
		LicenseID:    license.ID,
		Plan:         "pro",
		BillingCycle: models.BillingCycleMonthly,
		Amount:       49.90,
		StartsAt:     time.Now().Add(-90 * 24 * time.Hour),
		AutoRenew:    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	renewed, err := svc.RenewalSweep(ctx, 3*24*time.Hour)
	if err != nil {
		t.Fatalf("RenewalSweep: %v", err)
	}
	if len(renewed) != 0 {
		t.Errorf("renewed = %d, want 0", len(renewed))
	}
	if got := len(dispatcher.byType(models.AlertTypeRenewalDue)); got != 0 {
		t.Errorf("renewal-due alerts = %d, want 0", got)
	}

	stored, _ := store.GetSubscription(ctx, sub.ID)
	if !stored.EndsAt.Equal(sub.EndsAt) {
		t.Errorf("ends_at moved from %v to %v", sub.EndsAt, stored.EndsAt)
	}
}

func TestExpirySweepSkipsLapsedLicense(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeTrial, 0)
	expired := time.Now().Add(-48 * time.Hour)
	license.Status = models.LicenseStatusActive
	license.ExpiresAt = &expired
	if err := store.UpdateLicense(context.Background(), license); err != nil {
		t.Fatalf("UpdateLicense: %v", err)
	}
	svc, dispatcher := newTestLicenseService(store)

	expiring, err := svc.ExpirySweep(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("ExpirySweep: %v", err)
	}
	if len(expiring) != 0 {
		t.Errorf("expiring = %d, want 0", len(expiring))
	}
	if got := len(dispatcher.byType(models.AlertTypeLicenseExpiring)); got != 0 {
		t.Errorf("expiring alerts = %d, want 0", got)
	}
}

func TestSubscriptionRenewKeepsLaterLicenseExpiry(t *testing.T) {
	store := newMockStore()
	license := createLicense(t, store, models.LicenseTypeSubscription, 0)
	svc, _, _ := newTestSubscriptionService(store)
	ctx := context.Background()

	sub, err := svc.Create(ctx, models.CreateSubscriptionRequest{
		TenantID:     license.TenantID,
		LicenseID:    license.ID,
		Plan:         "pro",
		BillingCycle: models.BillingCycleMonthly,
		Amount:       49.90,
		StartsAt:     time.Now(),
		AutoRenew:    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The license was manually extended past the subscription term.
	manual := time.Now().Add(365 * 24 * time.Hour)
	stored, _ := store.GetLicense(ctx, license.ID)
	stored.ExpiresAt = &manual
	if err := store.UpdateLicense(ctx, stored); err != nil {
		t.Fatalf("UpdateLicense: %v", err)
	}

	if _, err := svc.Renew(ctx, sub.ID); err != nil {
		t.Fatalf("Renew: %v", err)
	}

	after, _ := store.GetLicense(ctx, license.ID)
	if after.ExpiresAt == nil || !after.ExpiresAt.Equal(manual) {
		t.Errorf("license expires_at = %v, want manual extension %v kept", after.ExpiresAt, manual)
	}
}

func TestEntitlementReadsThroughCache(t *testing.T) {
	store := newMockStore()
	tenant := models.NewTenant("acme", "ops@acme.example")
	store.addTenant(tenant)
	svc, _, cache := newTestSubscriptionService(store)
	ctx := context.Background()

	// No subscription yet: nil expiry, nothing cached.
	expires, err := svc.Entitlement(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if expires != nil {
		t.Errorf("expires = %v, want nil", expires)
	}

	// Cache miss falls back to the tenant row and repopulates Redis.
	want := time.Now().Add(30 * 24 * time.Hour)
	if err := store.UpdateTenantEntitlement(ctx, tenant.ID, want); err != nil {
		t.Fatalf("UpdateTenantEntitlement: %v", err)
	}
	expires, err = svc.Entitlement(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if expires == nil || !expires.Equal(want) {
		t.Errorf("expires = %v, want %v", expires, want)
	}
	cache.mu.Lock()
	cached, ok := cache.values[tenant.ID.String()]
	cache.mu.Unlock()
	if !ok || !cached.Equal(want) {
		t.Errorf("cached = %v, want %v", cached, want)
	}

	// Once cached, the store is no longer consulted.
	later := want.Add(24 * time.Hour)
	if err := cache.Set(ctx, tenant.ID.String(), later); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expires, err = svc.Entitlement(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if expires == nil || !expires.Equal(later) {
		t.Errorf("expires = %v, want cached %v", expires, later)
	}
}
