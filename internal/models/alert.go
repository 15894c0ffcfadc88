package models

import "time"

// AlertType identifies what condition triggered an alert.
type AlertType string

const (
	// AlertTypeDeviceOffline fires when a staleness sweep takes a device offline.
	AlertTypeDeviceOffline AlertType = "device_offline"
	// AlertTypeDeviceBlocked fires when a device is explicitly blocked.
	AlertTypeDeviceBlocked AlertType = "device_blocked"
	// AlertTypeResourceSaturation fires when a heartbeat reports cpu or memory above threshold.
	AlertTypeResourceSaturation AlertType = "resource_saturation"
	// AlertTypeLicenseExpired fires when lazy expiry detection transitions a license.
	AlertTypeLicenseExpired AlertType = "license_expired"
	// AlertTypeLicenseExpiring fires when the expiry sweep finds a license near its end.
	AlertTypeLicenseExpiring AlertType = "license_expiring"
	// AlertTypeLicenseSuspended fires when a license is administratively suspended.
	AlertTypeLicenseSuspended AlertType = "license_suspended"
	// AlertTypeRenewalDue fires when the renewal sweep finds a subscription near its end.
	AlertTypeRenewalDue AlertType = "renewal_due"
)

// AlertSeverity represents the severity level of an alert.
type AlertSeverity string

const (
	// AlertSeverityInfo is informational only.
	AlertSeverityInfo AlertSeverity = "info"
	// AlertSeverityWarning indicates a condition that may need attention.
	AlertSeverityWarning AlertSeverity = "warning"
	// AlertSeverityCritical indicates immediate attention is required.
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is the payload handed to the alert dispatcher boundary. Delivery is
// best-effort; the core neither persists nor retries alerts.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  AlertSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewAlert creates an Alert timestamped now.
func NewAlert(alertType AlertType, severity AlertSeverity, message string) *Alert {
	return &Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithData attaches structured data to the alert and returns it.
func (a *Alert) WithData(data map[string]any) *Alert {
	a.Data = data
	return a
}
