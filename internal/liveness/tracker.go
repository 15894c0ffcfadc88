// Package liveness ingests device heartbeats and drives the device status
// state machine: online and offline via heartbeat or sweep, blocked and
// maintenance only via explicit commands.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/alerts"
	"github.com/MacJediWizard/fleetguard/internal/locking"
	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/MacJediWizard/fleetguard/internal/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reconnectUptimeCredit is granted when an offline device reports online
// again. It is a heuristic, not measured elapsed time; changing it needs
// product sign-off because historical uptime figures depend on it.
const reconnectUptimeCredit = 300 // seconds

// saturationThresholdPct is the cpu/memory level above which a
// resource-saturation alert is raised.
const saturationThresholdPct = 90.0

// Store defines the persistence operations the tracker needs.
type Store interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetDeviceByIdentifier(ctx context.Context, identifier string) (*models.Device, error)
	CreateDevice(ctx context.Context, device *models.Device) error
	UpdateDevice(ctx context.Context, device *models.Device) error
	GetStaleDevices(ctx context.Context, cutoff time.Time) ([]*models.Device, error)
	InsertMetricSample(ctx context.Context, sample *models.MetricSample) error
	CreateBlockRecord(ctx context.Context, record *models.BlockRecord) error
	GetOpenBlockRecord(ctx context.Context, deviceID uuid.UUID) (*models.BlockRecord, error)
	UpdateBlockRecord(ctx context.Context, record *models.BlockRecord) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	CountDevicesByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
	DeviceStatusCounts(ctx context.Context, tenantID uuid.UUID) (map[models.DeviceStatus]int, error)
	GetTenantMetricAverages(ctx context.Context, tenantID uuid.UUID, since time.Time) (*models.MetricAverages, error)
}

// Broadcaster pushes realtime events to connected subscribers.
type Broadcaster interface {
	Broadcast(event registry.Event)
}

// Tracker applies heartbeats and explicit device commands. All state
// transitions for a device run inside that device's critical section; alert
// dispatch and broadcasting happen after it is released.
type Tracker struct {
	store      Store
	broadcast  Broadcaster
	dispatcher alerts.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	locks      *locking.KeyedMutex
}

// NewTracker creates a Tracker.
func NewTracker(store Store, broadcast Broadcaster, dispatcher alerts.Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:      store,
		broadcast:  broadcast,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With().Str("component", "liveness").Logger(),
		locks:      locking.NewKeyedMutex(),
	}
}

// ProcessHeartbeat applies a heartbeat report. A heartbeat from a blocked
// device is ignored; blocked devices change state only via Unblock.
func (t *Tracker) ProcessHeartbeat(ctx context.Context, hb models.Heartbeat) (*models.Device, error) {
	if !hb.Status.IsValid() {
		t.metrics.HeartbeatErrors.Inc()
		return nil, fmt.Errorf("status %q: %w", hb.Status, models.ErrInvalidState)
	}
	// Blocked and maintenance are command-only states; a heartbeat may only
	// report online or offline.
	if hb.Status != models.DeviceStatusOnline && hb.Status != models.DeviceStatusOffline {
		t.metrics.HeartbeatErrors.Inc()
		return nil, fmt.Errorf("status %q not reportable via heartbeat: %w", hb.Status, models.ErrInvalidState)
	}

	device, err := t.store.GetDeviceByIdentifier(ctx, hb.UniqueIdentifier)
	if err != nil {
		t.metrics.HeartbeatErrors.Inc()
		return nil, err
	}

	unlock := t.locks.Lock(device.ID)

	// Re-read inside the critical section so a concurrent block or sweep is
	// not overwritten.
	device, err = t.store.GetDevice(ctx, device.ID)
	if err != nil {
		unlock()
		t.metrics.HeartbeatErrors.Inc()
		return nil, err
	}

	if device.Status == models.DeviceStatusBlocked {
		unlock()
		t.logger.Debug().
			Str("device_id", device.ID.String()).
			Msg("heartbeat from blocked device ignored")
		return device, nil
	}

	previous := device.Status
	device.MarkSeen(hb.Status)
	if previous == models.DeviceStatusOffline && hb.Status == models.DeviceStatusOnline {
		device.UptimeSeconds += reconnectUptimeCredit
	}
	if hb.AppVersion != "" {
		device.AppVersion = hb.AppVersion
	}

	if err := t.store.UpdateDevice(ctx, device); err != nil {
		unlock()
		t.metrics.HeartbeatErrors.Inc()
		return nil, fmt.Errorf("apply heartbeat: %w", err)
	}
	unlock()

	if hb.Metrics != nil {
		t.recordMetrics(ctx, device, hb.Metrics)
	}

	t.broadcast.Broadcast(registry.NewEvent(registry.EventTypeHeartbeat, device.ID, map[string]any{
		"status":      string(device.Status),
		"app_version": device.AppVersion,
	}))

	t.metrics.HeartbeatsProcessed.Inc()
	return device, nil
}

// recordMetrics appends a sample and raises a saturation alert when cpu or
// memory exceed the threshold. Sample persistence failure is logged, never
// surfaced: the heartbeat itself already succeeded.
func (t *Tracker) recordMetrics(ctx context.Context, device *models.Device, hm *models.HeartbeatMetrics) {
	sample := models.NewMetricSample(device.ID)
	sample.CPUPct = hm.CPUPct
	sample.MemPct = hm.MemPct
	sample.DiskPct = hm.DiskPct
	sample.TempC = hm.TempC
	sample.NetUpMbps = hm.NetUpMbps
	sample.NetDownMbps = hm.NetDownMbps
	sample.LatencyMs = hm.LatencyMs
	sample.ProcessCount = hm.ProcessCount

	if err := t.store.InsertMetricSample(ctx, sample); err != nil {
		t.logger.Error().Err(err).
			Str("device_id", device.ID.String()).
			Msg("failed to persist metric sample")
	}

	if hm.CPUPct > saturationThresholdPct || hm.MemPct > saturationThresholdPct {
		t.dispatch(ctx, models.NewAlert(
			models.AlertTypeResourceSaturation,
			models.AlertSeverityWarning,
			fmt.Sprintf("device %s resource saturation: cpu %.1f%%, mem %.1f%%", device.Name, hm.CPUPct, hm.MemPct),
		).WithData(map[string]any{
			"device_id": device.ID.String(),
			"tenant_id": device.TenantID.String(),
			"cpu_pct":   hm.CPUPct,
			"mem_pct":   hm.MemPct,
		}))
	}
}

// SweepStaleDevices transitions devices that stopped reporting to offline and
// returns the transitioned set. Running it again immediately with no new
// heartbeats returns an empty set.
func (t *Tracker) SweepStaleDevices(ctx context.Context, threshold time.Duration) ([]*models.Device, error) {
	cutoff := time.Now().Add(-threshold)
	candidates, err := t.store.GetStaleDevices(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale devices: %w", err)
	}

	var transitioned []*models.Device
	for _, candidate := range candidates {
		device, err := t.sweepOne(ctx, candidate.ID, cutoff)
		if err != nil {
			t.logger.Error().Err(err).
				Str("device_id", candidate.ID.String()).
				Msg("stale sweep failed for device")
			continue
		}
		if device == nil {
			continue
		}

		transitioned = append(transitioned, device)

		t.broadcast.Broadcast(registry.NewEvent(registry.EventTypeHeartbeat, device.ID, map[string]any{
			"status": string(models.DeviceStatusOffline),
		}))
		t.dispatch(ctx, models.NewAlert(
			models.AlertTypeDeviceOffline,
			models.AlertSeverityWarning,
			fmt.Sprintf("device %s went offline", device.Name),
		).WithData(map[string]any{
			"device_id": device.ID.String(),
			"tenant_id": device.TenantID.String(),
			"last_seen": device.LastSeen,
		}))
	}

	return transitioned, nil
}

// sweepOne re-checks one candidate inside its critical section and applies
// the offline transition. Returns nil when a heartbeat won the race.
func (t *Tracker) sweepOne(ctx context.Context, deviceID uuid.UUID, cutoff time.Time) (*models.Device, error) {
	unlock := t.locks.Lock(deviceID)
	defer unlock()

	device, err := t.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !device.Sweepable() {
		return nil, nil
	}
	if device.LastSeen != nil && device.LastSeen.After(cutoff) {
		return nil, nil
	}

	device.Status = models.DeviceStatusOffline
	device.UpdatedAt = time.Now()
	if err := t.store.UpdateDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// Block transitions a device to blocked and records why. Blocking an already
// blocked device fails with ErrInvalidState.
func (t *Tracker) Block(ctx context.Context, deviceID uuid.UUID, reason string, severity models.BlockSeverity) (*models.Device, error) {
	unlock := t.locks.Lock(deviceID)

	device, err := t.store.GetDevice(ctx, deviceID)
	if err != nil {
		unlock()
		return nil, err
	}
	if device.Status == models.DeviceStatusBlocked {
		unlock()
		return nil, fmt.Errorf("device already blocked: %w", models.ErrInvalidState)
	}

	device.Status = models.DeviceStatusBlocked
	device.UpdatedAt = time.Now()
	if err := t.store.UpdateDevice(ctx, device); err != nil {
		unlock()
		return nil, fmt.Errorf("block device: %w", err)
	}

	record := models.NewBlockRecord(device.TenantID, &device.ID, reason, severity)
	if err := t.store.CreateBlockRecord(ctx, record); err != nil {
		unlock()
		return nil, fmt.Errorf("create block record: %w", err)
	}
	unlock()

	t.broadcast.Broadcast(registry.NewEvent(registry.EventTypeBlock, device.ID, map[string]any{
		"reason":   reason,
		"severity": string(severity),
	}))
	t.dispatch(ctx, models.NewAlert(
		models.AlertTypeDeviceBlocked,
		models.AlertSeverityCritical,
		fmt.Sprintf("device %s blocked: %s", device.Name, reason),
	).WithData(map[string]any{
		"device_id": device.ID.String(),
		"tenant_id": device.TenantID.String(),
		"reason":    reason,
	}))

	t.metrics.DevicesBlocked.Inc()
	return device, nil
}

// Unblock returns a blocked device to online and closes its open block
// record. Unblocking a device that is not blocked fails with ErrInvalidState.
func (t *Tracker) Unblock(ctx context.Context, deviceID uuid.UUID, by string) (*models.Device, error) {
	unlock := t.locks.Lock(deviceID)

	device, err := t.store.GetDevice(ctx, deviceID)
	if err != nil {
		unlock()
		return nil, err
	}
	if device.Status != models.DeviceStatusBlocked {
		unlock()
		return nil, fmt.Errorf("device not blocked: %w", models.ErrInvalidState)
	}

	device.Status = models.DeviceStatusOnline
	device.UpdatedAt = time.Now()
	if err := t.store.UpdateDevice(ctx, device); err != nil {
		unlock()
		return nil, fmt.Errorf("unblock device: %w", err)
	}

	record, err := t.store.GetOpenBlockRecord(ctx, deviceID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		// Nothing to close; the block may predate record keeping.
	case err != nil:
		unlock()
		return nil, fmt.Errorf("get open block record: %w", err)
	default:
		record.Unblock(by)
		if err := t.store.UpdateBlockRecord(ctx, record); err != nil {
			unlock()
			return nil, fmt.Errorf("close block record: %w", err)
		}
	}
	unlock()

	t.broadcast.Broadcast(registry.NewEvent(registry.EventTypeUnblock, device.ID, map[string]any{
		"unblocked_by": by,
	}))

	t.metrics.DevicesBlocked.Dec()
	return device, nil
}

// Register creates a device for a tenant, enforcing the tenant's device limit
// and identifier uniqueness.
func (t *Tracker) Register(ctx context.Context, req models.RegisterDeviceRequest) (*models.Device, error) {
	tenant, err := t.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	if tenant.MaxDevices > 0 {
		count, err := t.store.CountDevicesByTenant(ctx, tenant.ID)
		if err != nil {
			return nil, fmt.Errorf("count devices: %w", err)
		}
		if count >= tenant.MaxDevices {
			return nil, fmt.Errorf("tenant device limit %d reached: %w", tenant.MaxDevices, models.ErrQuotaExceeded)
		}
	}

	existing, err := t.store.GetDeviceByIdentifier(ctx, req.UniqueIdentifier)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("identifier %q: %w", req.UniqueIdentifier, models.ErrConflict)
	}

	device := models.NewDevice(req.TenantID, req.Name, req.UniqueIdentifier)
	device.Description = req.Description
	device.OS = req.OS
	device.OSVersion = req.OSVersion

	if err := t.store.CreateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	t.logger.Info().
		Str("device_id", device.ID.String()).
		Str("tenant_id", device.TenantID.String()).
		Str("name", device.Name).
		Msg("device registered")
	return device, nil
}

// Stats returns a tenant's fleet summary with 24h metric averages.
func (t *Tracker) Stats(ctx context.Context, tenantID uuid.UUID) (*models.DeviceStats, error) {
	counts, err := t.store.DeviceStatusCounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	averages, err := t.store.GetTenantMetricAverages(ctx, tenantID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	stats := &models.DeviceStats{
		ByStatus: counts,
		Averages: *averages,
	}
	for _, count := range counts {
		stats.Total += count
	}
	return stats, nil
}

// dispatch hands an alert to the dispatcher. Best-effort only.
func (t *Tracker) dispatch(ctx context.Context, alert *models.Alert) {
	t.metrics.AlertsDispatched.WithLabelValues(string(alert.Type)).Inc()
	t.dispatcher.Dispatch(ctx, alert)
}
