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

const subscriptionColumns = `id, tenant_id, license_id, plan, billing_cycle, amount,
	starts_at, ends_at, auto_renew, status, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(
		&s.ID, &s.TenantID, &s.LicenseID, &s.Plan, &s.BillingCycle, &s.Amount,
		&s.StartsAt, &s.EndsAt, &s.AutoRenew, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubscription inserts a new subscription.
func (db *DB) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO subscriptions (id, tenant_id, license_id, plan, billing_cycle, amount,
			starts_at, ends_at, auto_renew, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sub.ID, sub.TenantID, sub.LicenseID, sub.Plan, sub.BillingCycle, sub.Amount,
		sub.StartsAt, sub.EndsAt, sub.AutoRenew, sub.Status, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetSubscription returns a subscription by ID.
func (db *DB) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := scanSubscription(db.Pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, err
}

// ListSubscriptionsByTenant returns all subscriptions for a tenant, newest first.
func (db *DB) ListSubscriptionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Subscription, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateSubscription persists subscription field changes.
func (db *DB) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	sub.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE subscriptions
		SET plan = $2, billing_cycle = $3, amount = $4, starts_at = $5, ends_at = $6,
		    auto_renew = $7, status = $8, updated_at = $9
		WHERE id = $1
	`, sub.ID, sub.Plan, sub.BillingCycle, sub.Amount, sub.StartsAt, sub.EndsAt,
		sub.AutoRenew, sub.Status, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetRenewableSubscriptions returns active auto-renew subscriptions ending
// inside the window from now to the cutoff. Subscriptions whose term already
// lapsed are not picked up again.
func (db *DB) GetRenewableSubscriptions(ctx context.Context, cutoff time.Time) ([]*models.Subscription, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'active' AND auto_renew = TRUE
		  AND ends_at > NOW() AND ends_at <= $1
		ORDER BY ends_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get renewable subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan renewable subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetLatestSubscriptionEnd returns the latest end date among a tenant's active
// subscriptions. Feeds the tenant entitlement cascade.
func (db *DB) GetLatestSubscriptionEnd(ctx context.Context, tenantID uuid.UUID) (*time.Time, error) {
	var latest *time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT MAX(ends_at)
		FROM subscriptions
		WHERE tenant_id = $1 AND status = 'active'
	`, tenantID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("latest subscription end: %w", err)
	}
	return latest, nil
}
