package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantStatus represents the current status of a tenant account.
type TenantStatus string

const (
	// TenantStatusActive indicates the tenant account is in good standing.
	TenantStatusActive TenantStatus = "active"
	// TenantStatusBlocked indicates the tenant has been administratively blocked.
	TenantStatusBlocked TenantStatus = "blocked"
	// TenantStatusInactive indicates the tenant has no active entitlement.
	TenantStatusInactive TenantStatus = "inactive"
)

// Tenant represents the owning client organization of devices, licenses,
// and subscriptions.
type Tenant struct {
	ID     uuid.UUID    `json:"id"`
	Name   string       `json:"name"`
	Email  string       `json:"email"`
	Status TenantStatus `json:"status"`
	Plan   string       `json:"plan,omitempty"`

	// MaxDevices limits how many devices the tenant can register. 0 = unlimited.
	MaxDevices int `json:"max_devices"`

	// EntitlementExpiresAt is a denormalized copy of the latest subscription end
	// date, maintained by the subscription cascade as a read optimization. The
	// subscription record remains the source of truth.
	EntitlementExpiresAt *time.Time `json:"entitlement_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTenant creates a new Tenant with the given name and contact email.
func NewTenant(name, email string) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
