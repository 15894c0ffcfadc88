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

const licenseColumns = `id, tenant_id, device_id, key, type, status, activated_at,
	expires_at, renewed_at, usage_count, usage_limit, created_at, updated_at`

func scanLicense(row pgx.Row) (*models.License, error) {
	var l models.License
	err := row.Scan(
		&l.ID, &l.TenantID, &l.DeviceID, &l.Key, &l.Type, &l.Status, &l.ActivatedAt,
		&l.ExpiresAt, &l.RenewedAt, &l.UsageCount, &l.UsageLimit, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLicense inserts a new license.
func (db *DB) CreateLicense(ctx context.Context, license *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (id, tenant_id, device_id, key, type, status, activated_at,
			expires_at, renewed_at, usage_count, usage_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, license.ID, license.TenantID, license.DeviceID, license.Key, license.Type,
		license.Status, license.ActivatedAt, license.ExpiresAt, license.RenewedAt,
		license.UsageCount, license.UsageLimit, license.CreatedAt, license.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicense returns a license by ID.
func (db *DB) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	license, err := scanLicense(db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return license, err
}

// GetLicenseByKey returns a license by its activation key.
func (db *DB) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	license, err := scanLicense(db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return license, err
}

// ListLicensesByTenant returns all licenses for a tenant, newest first.
func (db *DB) ListLicensesByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, license)
	}
	return licenses, rows.Err()
}

// UpdateLicense persists license field changes.
func (db *DB) UpdateLicense(ctx context.Context, license *models.License) error {
	license.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET device_id = $2, status = $3, activated_at = $4, expires_at = $5,
		    renewed_at = $6, usage_count = $7, usage_limit = $8, updated_at = $9
		WHERE id = $1
	`, license.ID, license.DeviceID, license.Status, license.ActivatedAt, license.ExpiresAt,
		license.RenewedAt, license.UsageCount, license.UsageLimit, license.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetExpiringLicenses returns active licenses whose expiry falls inside the
// window from now to the cutoff. Already-expired licenses are excluded; those
// are handled lazily on verify, not by the sweep.
func (db *DB) GetExpiringLicenses(ctx context.Context, cutoff time.Time) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE status = 'active' AND expires_at IS NOT NULL
		  AND expires_at > NOW() AND expires_at <= $1
		ORDER BY expires_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get expiring licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expiring license: %w", err)
		}
		licenses = append(licenses, license)
	}
	return licenses, rows.Err()
}
