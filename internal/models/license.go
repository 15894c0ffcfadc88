package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// LicenseType represents the kind of license issued to a tenant.
type LicenseType string

const (
	// LicenseTypeTrial is a short evaluation license.
	LicenseTypeTrial LicenseType = "trial"
	// LicenseTypeTemporary is a fixed-duration license.
	LicenseTypeTemporary LicenseType = "temporary"
	// LicenseTypePerpetual never expires on its own.
	LicenseTypePerpetual LicenseType = "perpetual"
	// LicenseTypeSubscription is backed by a billing subscription.
	LicenseTypeSubscription LicenseType = "subscription"
)

// ValidLicenseTypes returns all valid license types.
func ValidLicenseTypes() []LicenseType {
	return []LicenseType{
		LicenseTypeTrial,
		LicenseTypeTemporary,
		LicenseTypePerpetual,
		LicenseTypeSubscription,
	}
}

// IsValid checks if the type is one of the known license types.
func (t LicenseType) IsValid() bool {
	for _, valid := range ValidLicenseTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// LicenseStatus represents the lifecycle state of a license.
type LicenseStatus string

const (
	// LicenseStatusPending means the license was created but never activated.
	LicenseStatusPending LicenseStatus = "pending"
	// LicenseStatusActive means the license is valid and in use.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusExpired means the expiry date has passed.
	LicenseStatusExpired LicenseStatus = "expired"
	// LicenseStatusSuspended means the license was administratively suspended.
	LicenseStatusSuspended LicenseStatus = "suspended"
	// LicenseStatusCancelled means the license was cancelled and cannot be reused.
	LicenseStatusCancelled LicenseStatus = "cancelled"
)

// Creation expiry offsets by license type. Perpetual and subscription-backed
// licenses start with no expiry; subscription licenses inherit theirs from the
// billing cycle cascade.
const (
	TrialDuration     = 15 * 24 * time.Hour
	TemporaryDuration = 30 * 24 * time.Hour
)

// License represents an entitlement issued to a tenant, optionally bound to a
// single device.
type License struct {
	ID       uuid.UUID  `json:"id"`
	TenantID uuid.UUID  `json:"tenant_id"`
	DeviceID *uuid.UUID `json:"device_id,omitempty"`

	// Key is the unique activation key in XXXX-XXXX-XXXX-XXXX form.
	Key string `json:"key"`

	Type        LicenseType   `json:"type"`
	Status      LicenseStatus `json:"status"`
	ActivatedAt *time.Time    `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	RenewedAt   *time.Time    `json:"renewed_at,omitempty"`

	// UsageCount tracks how many activations have consumed the license.
	// UsageLimit of 0 means unlimited.
	UsageCount int `json:"usage_count"`
	UsageLimit int `json:"usage_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLicense creates a pending License for the tenant. Trial and temporary
// licenses receive their fixed expiry offset at creation.
func NewLicense(tenantID uuid.UUID, deviceID *uuid.UUID, licType LicenseType, usageLimit int) (*License, error) {
	key, err := GenerateLicenseKey()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	lic := &License{
		ID:         uuid.New(),
		TenantID:   tenantID,
		DeviceID:   deviceID,
		Key:        key,
		Type:       licType,
		Status:     LicenseStatusPending,
		UsageLimit: usageLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch licType {
	case LicenseTypeTrial:
		exp := now.Add(TrialDuration)
		lic.ExpiresAt = &exp
	case LicenseTypeTemporary:
		exp := now.Add(TemporaryDuration)
		lic.ExpiresAt = &exp
	}

	return lic, nil
}

// GenerateLicenseKey generates a unique license key in format XXXX-XXXX-XXXX-XXXX.
func GenerateLicenseKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	hexStr := hex.EncodeToString(bytes)
	return hexStr[0:4] + "-" + hexStr[4:8] + "-" + hexStr[8:12] + "-" + hexStr[12:16], nil
}

// IsExpiredAt returns true if the license has an expiry date in the past
// relative to now.
func (l *License) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// QuotaReached returns true if the usage limit is set and consumed.
func (l *License) QuotaReached() bool {
	return l.UsageLimit > 0 && l.UsageCount >= l.UsageLimit
}

// CreateLicenseRequest is the request body for creating a license.
type CreateLicenseRequest struct {
	TenantID   uuid.UUID   `json:"tenant_id" binding:"required"`
	DeviceID   *uuid.UUID  `json:"device_id,omitempty"`
	Type       LicenseType `json:"type" binding:"required"`
	UsageLimit int         `json:"usage_limit,omitempty"`
}

// ActivateLicenseRequest is the request body for activating a license. The
// device may be named by id or, as agents do, by its unique identifier.
type ActivateLicenseRequest struct {
	Key              string     `json:"key" binding:"required"`
	DeviceID         *uuid.UUID `json:"device_id,omitempty"`
	UniqueIdentifier string     `json:"unique_identifier,omitempty"`
}

// RenewLicenseRequest is the request body for renewing a license.
type RenewLicenseRequest struct {
	// ExtensionDays is the number of days added past the current term.
	ExtensionDays int `json:"extension_days" binding:"required,min=1"`
}

// SuspendLicenseRequest is the request body for suspending a license.
type SuspendLicenseRequest struct {
	Reason string `json:"reason" binding:"required,min=1"`
}
