package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/MacJediWizard/fleetguard/internal/registry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type mockStore struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*models.Tenant
	devices map[uuid.UUID]*models.Device
	byIdent map[string]uuid.UUID
	samples []*models.MetricSample
	blocks  map[uuid.UUID]*models.BlockRecord
}

func newMockStore() *mockStore {
	return &mockStore{
		tenants: make(map[uuid.UUID]*models.Tenant),
		devices: make(map[uuid.UUID]*models.Device),
		byIdent: make(map[string]uuid.UUID),
		blocks:  make(map[uuid.UUID]*models.BlockRecord),
	}
}

func (s *mockStore) addTenant(tenant *models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = tenant
}

func (s *mockStore) addDevice(device *models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *device
	s.devices[device.ID] = &copied
	s.byIdent[device.UniqueIdentifier] = device.ID
}

func (s *mockStore) GetDevice(_ context.Context, id uuid.UUID) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

func (s *mockStore) GetDeviceByIdentifier(_ context.Context, identifier string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdent[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s.devices[id]
	return &copied, nil
}

func (s *mockStore) CreateDevice(_ context.Context, device *models.Device) error {
	s.addDevice(device)
	return nil
}

func (s *mockStore) UpdateDevice(_ context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[device.ID]; !ok {
		return models.ErrNotFound
	}
	copied := *device
	s.devices[device.ID] = &copied
	return nil
}

func (s *mockStore) GetStaleDevices(_ context.Context, cutoff time.Time) ([]*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*models.Device
	for _, device := range s.devices {
		if !device.Sweepable() {
			continue
		}
		if device.LastSeen == nil || device.LastSeen.Before(cutoff) {
			copied := *device
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

func (s *mockStore) InsertMetricSample(_ context.Context, sample *models.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *mockStore) CreateBlockRecord(_ context.Context, record *models.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.blocks[record.ID] = &copied
	return nil
}

func (s *mockStore) GetOpenBlockRecord(_ context.Context, deviceID uuid.UUID) (*models.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.blocks {
		if record.DeviceID != nil && *record.DeviceID == deviceID && record.UnblockedAt == nil {
			copied := *record
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *mockStore) UpdateBlockRecord(_ context.Context, record *models.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[record.ID]; !ok {
		return models.ErrNotFound
	}
	copied := *record
	s.blocks[record.ID] = &copied
	return nil
}

func (s *mockStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return tenant, nil
}

func (s *mockStore) CountDevicesByTenant(_ context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, device := range s.devices {
		if device.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (s *mockStore) DeviceStatusCounts(_ context.Context, tenantID uuid.UUID) (map[models.DeviceStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.DeviceStatus]int)
	for _, device := range s.devices {
		if device.TenantID == tenantID {
			counts[device.Status]++
		}
	}
	return counts, nil
}

func (s *mockStore) GetTenantMetricAverages(_ context.Context, tenantID uuid.UUID, since time.Time) (*models.MetricAverages, error) {
	return &models.MetricAverages{}, nil
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []registry.Event
}

func (b *mockBroadcaster) Broadcast(event registry.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *mockBroadcaster) byType(eventType registry.EventType) []registry.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []registry.Event
	for _, e := range b.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
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

func newTestTracker(store *mockStore) (*Tracker, *mockBroadcaster, *mockDispatcher) {
	broadcaster := &mockBroadcaster{}
	dispatcher := &mockDispatcher{}
	tracker := NewTracker(store, broadcaster, dispatcher, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	return tracker, broadcaster, dispatcher
}

func seedDevice(store *mockStore, status models.DeviceStatus, lastSeen *time.Time) *models.Device {
	tenant := models.NewTenant("acme", "ops@acme.example")
	store.addTenant(tenant)
	device := models.NewDevice(tenant.ID, "edge-01", "hw-"+uuid.New().String())
	device.Status = status
	device.LastSeen = lastSeen
	store.addDevice(device)
	return device
}

func TestProcessHeartbeatUnknownDevice(t *testing.T) {
	tracker, _, _ := newTestTracker(newMockStore())

	_, err := tracker.ProcessHeartbeat(context.Background(), models.Heartbeat{
		UniqueIdentifier: "ghost",
		Status:           models.DeviceStatusOnline,
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProcessHeartbeatInvalidStatus(t *testing.T) {
	store := newMockStore()
	device := seedDevice(store, models.DeviceStatusOnline, nil)
	tracker, _, _ := newTestTracker(store)

	_, err := tracker.ProcessHeartbeat(context.Background(), models.Heartbeat{
		UniqueIdentifier: device.UniqueIdentifier,
		Status:           "rebooting",
	})
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestProcessHeartbeatCommandOnlyStatuses(t *testing.T) {
	// Blocked and maintenance are entered via Block or operator action only;
	// a heartbeat claiming either must not transition the device.
	for _, status := range []models.DeviceStatus{models.DeviceStatusBlocked, models.DeviceStatusMaintenance} {
		t.Run(string(status), func(t *testing.T) {
			store := newMockStore()
			device := seedDevice(store, models.DeviceStatusOnline, nil)
			tracker, broadcaster, _ := newTestTracker(store)

			_, err := tracker.ProcessHeartbeat(context.Background(), models.Heartbeat{
				UniqueIdentifier: device.UniqueIdentifier,
				Status:           status,
			})
			if !errors.Is(err, models.ErrInvalidState) {
				t.Fatalf("err = %v, want ErrInvalidState", err)
			}

			stored, err := store.GetDevice(context.Background(), device.ID)
			if err != nil {
				t.Fatalf("GetDevice: %v", err)
			}
			if stored.Status != models.DeviceStatusOnline {
				t.Errorf("status = %s, want online", stored.Status)
			}
			if len(broadcaster.events) != 0 {
				t.Errorf("broadcasts = %d, want 0", len(broadcaster.events))
			}
		})
	}
}

func TestProcessHeartbeatReconnectCredit(t *testing.T) {
	store := newMockStore()
	device := seedDevice(store, models.DeviceStatusOffline, nil)
	tracker, broadcaster, _ := newTestTracker(store)

	updated, err := tracker.ProcessHeartbeat(context.Background(), models.Heartbeat{
		UniqueIdentifier: device.UniqueIdentifier,
		Status:           models.DeviceStatusOnline,
		AppVersion:       "2.4.1",
	})
	if err != nil {
		t.Fatalf("ProcessHeartbeat: %v", err)
	}

	if updated.UptimeSeconds != reconnectUptimeCredit {
		t.Errorf("uptime = %d, want %d", updated.UptimeSeconds, reconnectUptimeCredit)
	}
	if updated.Status != models.DeviceStatusOnline {
		t.Errorf("status = %s, want online", updated.Status)
	}
	if updated.LastSeen == nil {
		t.Error("last_seen not set")
	}
	if updated.AppVersion != "2.4.1" {
		t.Errorf("app_version = %q, want 2.4.1", updated.AppVersion)
	}
	if got := len(broadcaster.byType(registry.EventTypeHeartbeat)); got != 1 {
		t.Errorf("heartbeat broadcasts = %d, want 1", got)
	}

	// A second online heartbeat grants no further credit.
	updated, err = tracker.ProcessHeartbeat(context.Background(), models.Heartbeat{
		UniqueIdentifier: device.UniqueIdentifier,
		Status:           models.DeviceStatusOnline,
	})
	if err != nil {
		t.Fatalf("ProcessHeartbeat: %v", err)
	}
	if updated.UptimeSeconds != reconnectUptimeCredit {
		t.Errorf("uptime after second heartbeat = %d, want %d", updated.UptimeSeconds, reconnectUptimeCredit)
	}
}

func TestProcessHeartbeatBlockedDeviceIgnored(t *testing.T) {
	store := newMockStore()
	device := seedDevice(store, models.DeviceStatusBlocked, nil)
	tracker, broadcaster, _ := newTestTracker(store)

	got, err := tracker.ProcessHeartbeat(context.Background(), models.Heartbeat{
		UniqueIdentifier: device.UniqueIdentifier,
		Status:           models.DeviceStatusOnline,
	})
	if err != nil {
		t.Fatalf("ProcessHeartbeat: %v", err)
	}
	if got.Status != models.DeviceStatusBlocked {
		t.Errorf("status = %s, want blocked", got.Status)
	}
	if got.LastSeen != nil {
		t.Error("last_seen updated for blocked device")
	}
	if len(broadcaster.events) != 0 {
		t.Errorf("broadcasts = %d, want 0", len(broadcaster.events))
	}
}

func TestProcessHeartbeatSaturationAlert(t *testing.T) {
	tests := []struct {
		name       string
		cpu, mem   float64
		wantAlerts int
	}{
		{"below threshold", 80, 80, 0},
		{"cpu saturated", 95, 50, 1},
		{"mem saturated", 50, 95, 1},
		{"exactly at threshold", 90, 90, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			device := seedDevice(store, models.DeviceStatusOnline, nil)
			tracker, _, dispatcher := newTestTracker(store)

			_, err := tracker.ProcessHeartbeat(context.Background(), models.Heartbeat{
				UniqueIdentifier: device.UniqueIdentifier,
				Status:           models.DeviceStatusOnline,
				Metrics:          &models.HeartbeatMetrics{CPUPct: tt.cpu, MemPct: tt.mem},
			})
			if err != nil {
				t.Fatalf("ProcessHeartbeat: %v", err)
			}

			if got := len(dispatcher.byType(models.AlertTypeResourceSaturation)); got != tt.wantAlerts {
				t.Errorf("saturation alerts = %d, want %d", got, tt.wantAlerts)
			}
			store.mu.Lock()
			samples := len(store.samples)
			store.mu.Unlock()
			if samples != 1 {
				t.Errorf("samples = %d, want 1", samples)
			}
		})
	}
}

func TestSweepStaleDevices(t *testing.T) {
	store := newMockStore()
	seen := time.Now().Add(-6 * time.Minute)
	device := seedDevice(store, models.DeviceStatusOnline, &seen)
	tracker, broadcaster, dispatcher := newTestTracker(store)

	transitioned, err := tracker.SweepStaleDevices(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepStaleDevices: %v", err)
	}
	if len(transitioned) != 1 || transitioned[0].ID != device.ID {
		t.Fatalf("transitioned = %v, want [%s]", transitioned, device.ID)
	}
	if transitioned[0].Status != models.DeviceStatusOffline {
		t.Errorf("status = %s, want offline", transitioned[0].Status)
	}
	if got := len(dispatcher.byType(models.AlertTypeDeviceOffline)); got != 1 {
		t.Errorf("offline alerts = %d, want 1", got)
	}
	if got := len(broadcaster.byType(registry.EventTypeHeartbeat)); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}

	// Immediate re-run with no new heartbeats transitions nothing.
	transitioned, err = tracker.SweepStaleDevices(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepStaleDevices: %v", err)
	}
	if len(transitioned) != 0 {
		t.Errorf("second sweep transitioned %d devices, want 0", len(transitioned))
	}
}

func TestSweepSkipsBlockedAndMaintenance(t *testing.T) {
	store := newMockStore()
	seen := time.Now().Add(-time.Hour)
	seedDevice(store, models.DeviceStatusBlocked, &seen)
	seedDevice(store, models.DeviceStatusMaintenance, &seen)
	seedDevice(store, models.DeviceStatusOffline, &seen)
	tracker, _, dispatcher := newTestTracker(store)

	transitioned, err := tracker.SweepStaleDevices(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepStaleDevices: %v", err)
	}
	if len(transitioned) != 0 {
		t.Errorf("transitioned = %d, want 0", len(transitioned))
	}
	if len(dispatcher.alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(dispatcher.alerts))
	}
}

func TestBlockAndUnblock(t *testing.T) {
	store := newMockStore()
	device := seedDevice(store, models.DeviceStatusOnline, nil)
	tracker, broadcaster, dispatcher := newTestTracker(store)
	ctx := context.Background()

	blocked, err := tracker.Block(ctx, device.ID, "non-payment", models.BlockSeverityHigh)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blocked.Status != models.DeviceStatusBlocked {
		t.Errorf("status = %s, want blocked", blocked.Status)
	}
	if got := len(broadcaster.byType(registry.EventTypeBlock)); got != 1 {
		t.Errorf("bloqueio broadcasts = %d, want 1", got)
	}
	if got := len(dispatcher.byType(models.AlertTypeDeviceBlocked)); got != 1 {
		t.Errorf("blocked alerts = %d, want 1", got)
	}
	if _, err := store.GetOpenBlockRecord(ctx, device.ID); err != nil {
		t.Errorf("open block record: %v", err)
	}

	if _, err := tracker.Block(ctx, device.ID, "again", models.BlockSeverityLow); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("double block err = %v, want ErrInvalidState", err)
	}

	unblocked, err := tracker.Unblock(ctx, device.ID, "admin@acme")
	if err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if unblocked.Status != models.DeviceStatusOnline {
		t.Errorf("status = %s, want online", unblocked.Status)
	}
	if got := len(broadcaster.byType(registry.EventTypeUnblock)); got != 1 {
		t.Errorf("desbloqueio broadcasts = %d, want 1", got)
	}
	if _, err := store.GetOpenBlockRecord(ctx, device.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("open block record after unblock: %v, want ErrNotFound", err)
	}

	if _, err := tracker.Unblock(ctx, device.ID, "admin@acme"); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("unblock online device err = %v, want ErrInvalidState", err)
	}
}

func TestRegisterEnforcesLimitAndUniqueness(t *testing.T) {
	store := newMockStore()
	tenant := models.NewTenant("acme", "ops@acme.example")
	tenant.MaxDevices = 1
	store.addTenant(tenant)
	tracker, _, _ := newTestTracker(store)
	ctx := context.Background()

	first, err := tracker.Register(ctx, models.RegisterDeviceRequest{
		TenantID:         tenant.ID,
		Name:             "edge-01",
		UniqueIdentifier: "hw-001",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if first.Status != models.DeviceStatusOffline {
		t.Errorf("new device status = %s, want offline", first.Status)
	}

	_, err = tracker.Register(ctx, models.RegisterDeviceRequest{
		TenantID:         tenant.ID,
		Name:             "edge-02",
		UniqueIdentifier: "hw-002",
	})
	if !errors.Is(err, models.ErrQuotaExceeded) {
		t.Errorf("over-limit err = %v, want ErrQuotaExceeded", err)
	}

	tenant.MaxDevices = 10
	_, err = tracker.Register(ctx, models.RegisterDeviceRequest{
		TenantID:         tenant.ID,
		Name:             "edge-03",
		UniqueIdentifier: "hw-001",
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("duplicate identifier err = %v, want ErrConflict", err)
	}
}

func TestStats(t *testing.T) {
	store := newMockStore()
	tenant := models.NewTenant("acme", "ops@acme.example")
	store.addTenant(tenant)
	for _, status := range []models.DeviceStatus{
		models.DeviceStatusOnline, models.DeviceStatusOnline, models.DeviceStatusOffline,
	} {
		device := models.NewDevice(tenant.ID, "edge", "hw-stats-"+uuid.New().String())
		device.Status = status
		store.addDevice(device)
	}
	tracker, _, _ := newTestTracker(store)

	stats, err := tracker.Stats(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[models.DeviceStatusOnline] != 2 {
		t.Errorf("online = %d, want 2", stats.ByStatus[models.DeviceStatusOnline])
	}
}
