package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `id, tenant_id, name, unique_identifier, description, os, os_version,
	status, last_seen, uptime_seconds, app_version, created_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Name, &d.UniqueIdentifier, &d.Description,
		&d.OS, &d.OSVersion, &d.Status, &d.LastSeen, &d.UptimeSeconds,
		&d.AppVersion, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDevice inserts a new device.
func (db *DB) CreateDevice(ctx context.Context, device *models.Device) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO devices (id, tenant_id, name, unique_identifier, description, os, os_version,
			status, last_seen, uptime_seconds, app_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, device.ID, device.TenantID, device.Name, device.UniqueIdentifier, device.Description,
		device.OS, device.OSVersion, device.Status, device.LastSeen, device.UptimeSeconds,
		device.AppVersion, device.CreatedAt, device.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// GetDevice returns a device by ID.
func (db *DB) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	device, err := scanDevice(db.Pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, err
}

// GetDeviceByIdentifier returns a device by its reported unique identifier.
func (db *DB) GetDeviceByIdentifier(ctx context.Context, identifier string) (*models.Device, error) {
	device, err := scanDevice(db.Pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE unique_identifier = $1`, identifier))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("get device by identifier: %w", err)
	}
	return device, err
}

// ListDevicesByTenant returns all devices for a tenant ordered by name.
func (db *DB) ListDevicesByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Device, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// UpdateDevice persists device field changes.
func (db *DB) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE devices
		SET name = $2, description = $3, os = $4, os_version = $5, status = $6,
		    last_seen = $7, uptime_seconds = $8, app_version = $9, updated_at = $10
		WHERE id = $1
	`, device.ID, device.Name, device.Description, device.OS, device.OSVersion,
		device.Status, device.LastSeen, device.UptimeSeconds, device.AppVersion, device.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetStaleDevices returns devices eligible for the offline sweep: not already
// offline, blocked or in maintenance, and last seen before the cutoff (or
// never seen).
func (db *DB) GetStaleDevices(ctx context.Context, cutoff time.Time) ([]*models.Device, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE status NOT IN ('offline', 'blocked', 'maintenance')
		  AND (last_seen IS NULL OR last_seen < $1)
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get stale devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// CountDevicesByTenant returns the number of devices registered to a tenant.
func (db *DB) CountDevicesByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM devices WHERE tenant_id = $1`, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return count, nil
}

// DeviceStatusCounts returns the per-status device counts for a tenant.
func (db *DB) DeviceStatusCounts(ctx context.Context, tenantID uuid.UUID) (map[models.DeviceStatus]int, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM devices
		WHERE tenant_id = $1
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("device status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DeviceStatus]int)
	for rows.Next() {
		var status models.DeviceStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// GlobalDeviceStatusCounts returns per-status device counts across all
// tenants. Feeds the fleet gauges on the metrics roll-up.
func (db *DB) GlobalDeviceStatusCounts(ctx context.Context) (map[models.DeviceStatus]int, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM devices
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("global device status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DeviceStatus]int)
	for rows.Next() {
		var status models.DeviceStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
