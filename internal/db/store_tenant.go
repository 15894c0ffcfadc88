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

// CreateTenant inserts a new tenant.
func (db *DB) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO tenants (id, name, email, status, plan, max_devices, entitlement_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tenant.ID, tenant.Name, tenant.Email, tenant.Status, tenant.Plan,
		tenant.MaxDevices, tenant.EntitlementExpiresAt, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// GetTenant returns a tenant by ID.
func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, email, status, plan, max_devices, entitlement_expires_at, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.Email, &tenant.Status, &tenant.Plan,
		&tenant.MaxDevices, &tenant.EntitlementExpiresAt, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &tenant, nil
}

// ListTenants returns all tenants ordered by name.
func (db *DB) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, email, status, plan, max_devices, entitlement_expires_at, created_at, updated_at
		FROM tenants
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var tenant models.Tenant
		if err := rows.Scan(
			&tenant.ID, &tenant.Name, &tenant.Email, &tenant.Status, &tenant.Plan,
			&tenant.MaxDevices, &tenant.EntitlementExpiresAt, &tenant.CreatedAt, &tenant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, &tenant)
	}
	return tenants, rows.Err()
}

// UpdateTenant persists tenant field changes.
func (db *DB) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE tenants
		SET name = $2, email = $3, status = $4, plan = $5, max_devices = $6,
		    entitlement_expires_at = $7, updated_at = $8
		WHERE id = $1
	`, tenant.ID, tenant.Name, tenant.Email, tenant.Status, tenant.Plan,
		tenant.MaxDevices, tenant.EntitlementExpiresAt, tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateTenantEntitlement writes the denormalized entitlement expiration date.
// Called only by the subscription cascade.
func (db *DB) UpdateTenantEntitlement(ctx context.Context, tenantID uuid.UUID, expiresAt time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE tenants
		SET entitlement_expires_at = $2, updated_at = NOW()
		WHERE id = $1
	`, tenantID, expiresAt)
	if err != nil {
		return fmt.Errorf("update tenant entitlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
