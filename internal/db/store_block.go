package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const blockColumns = `id, tenant_id, device_id, reason, severity, blocked_at, unblocked_at, unblocked_by`

func scanBlockRecord(row pgx.Row) (*models.BlockRecord, error) {
	var b models.BlockRecord
	err := row.Scan(
		&b.ID, &b.TenantID, &b.DeviceID, &b.Reason, &b.Severity,
		&b.BlockedAt, &b.UnblockedAt, &b.UnblockedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBlockRecord inserts a new block record.
func (db *DB) CreateBlockRecord(ctx context.Context, record *models.BlockRecord) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO block_records (id, tenant_id, device_id, reason, severity, blocked_at, unblocked_at, unblocked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.TenantID, record.DeviceID, record.Reason, record.Severity,
		record.BlockedAt, record.UnblockedAt, record.UnblockedBy)
	if err != nil {
		return fmt.Errorf("create block record: %w", err)
	}
	return nil
}

// GetOpenBlockRecord returns the open (not yet unblocked) record for a device.
func (db *DB) GetOpenBlockRecord(ctx context.Context, deviceID uuid.UUID) (*models.BlockRecord, error) {
	record, err := scanBlockRecord(db.Pool.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM block_records
		WHERE device_id = $1 AND unblocked_at IS NULL
		ORDER BY blocked_at DESC
		LIMIT 1
	`, deviceID))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("get open block record: %w", err)
	}
	return record, err
}

// UpdateBlockRecord persists the unblock fields of a record.
func (db *DB) UpdateBlockRecord(ctx context.Context, record *models.BlockRecord) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE block_records
		SET unblocked_at = $2, unblocked_by = $3
		WHERE id = $1
	`, record.ID, record.UnblockedAt, record.UnblockedBy)
	if err != nil {
		return fmt.Errorf("update block record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListBlockRecordsByTenant returns a tenant's block history, newest first.
func (db *DB) ListBlockRecordsByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.BlockRecord, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+blockColumns+` FROM block_records WHERE tenant_id = $1 ORDER BY blocked_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list block records: %w", err)
	}
	defer rows.Close()

	var records []*models.BlockRecord
	for rows.Next() {
		record, err := scanBlockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
