package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingCycle represents the renewal cadence of a subscription.
type BillingCycle string

const (
	// BillingCycleMonthly renews every 30 days.
	BillingCycleMonthly BillingCycle = "monthly"
	// BillingCycleQuarterly renews every 90 days.
	BillingCycleQuarterly BillingCycle = "quarterly"
	// BillingCycleSemiAnnual renews every 180 days.
	BillingCycleSemiAnnual BillingCycle = "semiannual"
	// BillingCycleAnnual renews every 365 days.
	BillingCycleAnnual BillingCycle = "annual"
	// BillingCycleBiannual renews every 730 days.
	BillingCycleBiannual BillingCycle = "biannual"
)

// ValidBillingCycles returns all valid billing cycles.
func ValidBillingCycles() []BillingCycle {
	return []BillingCycle{
		BillingCycleMonthly,
		BillingCycleQuarterly,
		BillingCycleSemiAnnual,
		BillingCycleAnnual,
		BillingCycleBiannual,
	}
}

// IsValid checks if the cycle is one of the known billing cycles.
func (c BillingCycle) IsValid() bool {
	for _, valid := range ValidBillingCycles() {
		if c == valid {
			return true
		}
	}
	return false
}

// Length returns the duration of one billing cycle. Cycles are fixed day
// counts, not calendar months.
func (c BillingCycle) Length() time.Duration {
	switch c {
	case BillingCycleMonthly:
		return 30 * 24 * time.Hour
	case BillingCycleQuarterly:
		return 90 * 24 * time.Hour
	case BillingCycleSemiAnnual:
		return 180 * 24 * time.Hour
	case BillingCycleAnnual:
		return 365 * 24 * time.Hour
	case BillingCycleBiannual:
		return 730 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	// SubscriptionStatusActive means the subscription is current.
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusCancelled means the subscription was cancelled.
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	// SubscriptionStatusLapsed means the subscription ended without renewal.
	SubscriptionStatusLapsed SubscriptionStatus = "lapsed"
)

// Subscription represents the billing arrangement backing a license.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	LicenseID uuid.UUID `json:"license_id"`

	Plan         string       `json:"plan"`
	BillingCycle BillingCycle `json:"billing_cycle"`
	Amount       float64      `json:"amount"`

	StartsAt time.Time `json:"starts_at"`
	// EndsAt is always StartsAt plus a whole number of billing cycles.
	EndsAt    time.Time          `json:"ends_at"`
	AutoRenew bool               `json:"auto_renew"`
	Status    SubscriptionStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSubscription creates an active Subscription starting at startsAt with an
// end date one billing cycle later.
func NewSubscription(tenantID, licenseID uuid.UUID, plan string, cycle BillingCycle, amount float64, startsAt time.Time, autoRenew bool) *Subscription {
	now := time.Now()
	return &Subscription{
		ID:           uuid.New(),
		TenantID:     tenantID,
		LicenseID:    licenseID,
		Plan:         plan,
		BillingCycle: cycle,
		Amount:       amount,
		StartsAt:     startsAt,
		EndsAt:       startsAt.Add(cycle.Length()),
		AutoRenew:    autoRenew,
		Status:       SubscriptionStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Advance extends the subscription end date by exactly one billing cycle.
func (s *Subscription) Advance() {
	s.EndsAt = s.EndsAt.Add(s.BillingCycle.Length())
	s.UpdatedAt = time.Now()
}

// CreateSubscriptionRequest is the request body for creating a subscription.
type CreateSubscriptionRequest struct {
	TenantID     uuid.UUID    `json:"tenant_id" binding:"required"`
	LicenseID    uuid.UUID    `json:"license_id" binding:"required"`
	Plan         string       `json:"plan" binding:"required,min=1,max=100"`
	BillingCycle BillingCycle `json:"billing_cycle" binding:"required"`
	Amount       float64      `json:"amount" binding:"required"`
	StartsAt     time.Time    `json:"starts_at" binding:"required"`
	AutoRenew    bool         `json:"auto_renew"`
}
