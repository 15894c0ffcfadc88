package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceStatus represents the operational state of a device.
type DeviceStatus string

const (
	// DeviceStatusOnline indicates the device is reporting heartbeats.
	DeviceStatusOnline DeviceStatus = "online"
	// DeviceStatusOffline indicates the device has not reported recently.
	DeviceStatusOffline DeviceStatus = "offline"
	// DeviceStatusMaintenance indicates the device was manually placed in maintenance.
	DeviceStatusMaintenance DeviceStatus = "maintenance"
	// DeviceStatusBlocked indicates the device was blocked by an explicit command.
	DeviceStatusBlocked DeviceStatus = "blocked"
)

// ValidDeviceStatuses returns all valid device statuses.
func ValidDeviceStatuses() []DeviceStatus {
	return []DeviceStatus{
		DeviceStatusOnline,
		DeviceStatusOffline,
		DeviceStatusMaintenance,
		DeviceStatusBlocked,
	}
}

// IsValid checks if the status is one of the known device statuses.
func (s DeviceStatus) IsValid() bool {
	for _, valid := range ValidDeviceStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// Device represents a registered remote endpoint belonging to a tenant.
// Devices are never hard-deleted.
type Device struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`

	// UniqueIdentifier is the immutable identifier the device reports in
	// heartbeats. Unique across all tenants.
	UniqueIdentifier string `json:"unique_identifier"`

	Description string       `json:"description,omitempty"`
	OS          string       `json:"os,omitempty"`
	OSVersion   string       `json:"os_version,omitempty"`
	Status      DeviceStatus `json:"status"`
	LastSeen    *time.Time   `json:"last_seen,omitempty"`

	// UptimeSeconds is a heuristic accumulator, not measured uptime. An
	// offline device that reconnects is credited a fixed amount rather than
	// the actual elapsed time.
	UptimeSeconds int64 `json:"uptime_seconds"`

	AppVersion string    `json:"app_version,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewDevice creates a new Device in the offline state.
func NewDevice(tenantID uuid.UUID, name, uniqueIdentifier string) *Device {
	now := time.Now()
	return &Device{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Name:             name,
		UniqueIdentifier: uniqueIdentifier,
		Status:           DeviceStatusOffline,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsStale returns true if the device has not been seen within the threshold.
// A device with no recorded heartbeat is considered stale.
func (d *Device) IsStale(threshold time.Duration) bool {
	if d.LastSeen == nil {
		return true
	}
	return time.Since(*d.LastSeen) > threshold
}

// Sweepable returns true if a staleness sweep may transition this device to
// offline. Blocked and maintenance devices only change state via explicit
// commands, and offline devices have nothing to transition.
func (d *Device) Sweepable() bool {
	switch d.Status {
	case DeviceStatusOffline, DeviceStatusBlocked, DeviceStatusMaintenance:
		return false
	}
	return true
}

// MarkSeen records a heartbeat arrival with the reported status.
func (d *Device) MarkSeen(status DeviceStatus) {
	now := time.Now()
	d.LastSeen = &now
	d.Status = status
	d.UpdatedAt = now
}

// MetricSample is a point-in-time health reading reported by a device.
// Samples are append-only and created by heartbeat ingestion only.
type MetricSample struct {
	ID           uuid.UUID `json:"id"`
	DeviceID     uuid.UUID `json:"device_id"`
	CPUPct       float64   `json:"cpu_pct"`
	MemPct       float64   `json:"mem_pct"`
	DiskPct      float64   `json:"disk_pct"`
	TempC        float64   `json:"temp_c"`
	NetUpMbps    float64   `json:"net_up_mbps"`
	NetDownMbps  float64   `json:"net_down_mbps"`
	LatencyMs    float64   `json:"latency_ms"`
	ProcessCount int       `json:"process_count"`
	CapturedAt   time.Time `json:"captured_at"`
}

// NewMetricSample creates a MetricSample for the given device captured now.
func NewMetricSample(deviceID uuid.UUID) *MetricSample {
	return &MetricSample{
		ID:         uuid.New(),
		DeviceID:   deviceID,
		CapturedAt: time.Now(),
	}
}

// MetricAverages holds averaged readings over a window of samples.
type MetricAverages struct {
	CPUPct      float64 `json:"cpu_pct"`
	MemPct      float64 `json:"mem_pct"`
	DiskPct     float64 `json:"disk_pct"`
	SampleCount int     `json:"sample_count"`
}

// DeviceStats summarizes a tenant's fleet for dashboards.
type DeviceStats struct {
	Total    int                  `json:"total"`
	ByStatus map[DeviceStatus]int `json:"by_status"`
	Averages MetricAverages       `json:"averages_24h"`
}

// HeartbeatMetrics is the optional metrics block of a heartbeat report.
type HeartbeatMetrics struct {
	CPUPct       float64 `json:"cpu_pct"`
	MemPct       float64 `json:"mem_pct"`
	DiskPct      float64 `json:"disk_pct"`
	TempC        float64 `json:"temp_c"`
	NetUpMbps    float64 `json:"net_up_mbps"`
	NetDownMbps  float64 `json:"net_down_mbps"`
	LatencyMs    float64 `json:"latency_ms"`
	ProcessCount int     `json:"process_count"`
}

// Heartbeat is a liveness and health report from a device.
type Heartbeat struct {
	UniqueIdentifier string            `json:"device_unique_identifier" binding:"required"`
	Status           DeviceStatus      `json:"status" binding:"required"`
	Metrics          *HeartbeatMetrics `json:"metrics,omitempty"`
	AppVersion       string            `json:"app_version,omitempty"`
}

// RegisterDeviceRequest is the request body for registering a device.
type RegisterDeviceRequest struct {
	TenantID         uuid.UUID `json:"tenant_id" binding:"required"`
	Name             string    `json:"name" binding:"required,min=1,max=100"`
	UniqueIdentifier string    `json:"unique_identifier" binding:"required,min=1,max=100"`
	Description      string    `json:"description,omitempty"`
	OS               string    `json:"os,omitempty"`
	OSVersion        string    `json:"os_version,omitempty"`
}
