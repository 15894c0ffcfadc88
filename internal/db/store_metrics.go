package db

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/google/uuid"
)

// InsertMetricSample appends a metric sample. Samples are never updated.
func (db *DB) InsertMetricSample(ctx context.Context, sample *models.MetricSample) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO metric_samples (id, device_id, cpu_pct, mem_pct, disk_pct, temp_c,
			net_up_mbps, net_down_mbps, latency_ms, process_count, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sample.ID, sample.DeviceID, sample.CPUPct, sample.MemPct, sample.DiskPct, sample.TempC,
		sample.NetUpMbps, sample.NetDownMbps, sample.LatencyMs, sample.ProcessCount, sample.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert metric sample: %w", err)
	}
	return nil
}

// GetDeviceMetrics returns the most recent samples for a device, newest first.
func (db *DB) GetDeviceMetrics(ctx context.Context, deviceID uuid.UUID, limit int) ([]*models.MetricSample, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, cpu_pct, mem_pct, disk_pct, temp_c,
		       net_up_mbps, net_down_mbps, latency_ms, process_count, captured_at
		FROM metric_samples
		WHERE device_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("get device metrics: %w", err)
	}
	defer rows.Close()

	var samples []*models.MetricSample
	for rows.Next() {
		var s models.MetricSample
		if err := rows.Scan(
			&s.ID, &s.DeviceID, &s.CPUPct, &s.MemPct, &s.DiskPct, &s.TempC,
			&s.NetUpMbps, &s.NetDownMbps, &s.LatencyMs, &s.ProcessCount, &s.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan metric sample: %w", err)
		}
		samples = append(samples, &s)
	}
	return samples, rows.Err()
}

// GetTenantMetricAverages returns averaged readings across a tenant's devices
// since the given time.
func (db *DB) GetTenantMetricAverages(ctx context.Context, tenantID uuid.UUID, since time.Time) (*models.MetricAverages, error) {
	var avg models.MetricAverages
	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(m.cpu_pct), 0), COALESCE(AVG(m.mem_pct), 0),
		       COALESCE(AVG(m.disk_pct), 0), COUNT(*)
		FROM metric_samples m
		JOIN devices d ON d.id = m.device_id
		WHERE d.tenant_id = $1 AND m.captured_at >= $2
	`, tenantID, since).Scan(&avg.CPUPct, &avg.MemPct, &avg.DiskPct, &avg.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("tenant metric averages: %w", err)
	}
	return &avg, nil
}

// GetGlobalMetricAverages returns averaged readings across the whole fleet
// since the given time.
func (db *DB) GetGlobalMetricAverages(ctx context.Context, since time.Time) (*models.MetricAverages, error) {
	var avg models.MetricAverages
	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(cpu_pct), 0), COALESCE(AVG(mem_pct), 0),
		       COALESCE(AVG(disk_pct), 0), COUNT(*)
		FROM metric_samples
		WHERE captured_at >= $1
	`, since).Scan(&avg.CPUPct, &avg.MemPct, &avg.DiskPct, &avg.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("global metric averages: %w", err)
	}
	return &avg, nil
}
