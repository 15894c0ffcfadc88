package models

import (
	"time"

	"github.com/google/uuid"
)

// BlockSeverity represents how serious a block is.
type BlockSeverity string

const (
	// BlockSeverityLow marks a routine administrative block.
	BlockSeverityLow BlockSeverity = "low"
	// BlockSeverityMedium marks a block that needs follow-up.
	BlockSeverityMedium BlockSeverity = "medium"
	// BlockSeverityHigh marks a block for abuse or non-payment.
	BlockSeverityHigh BlockSeverity = "high"
	// BlockSeverityCritical marks a block for terms violations.
	BlockSeverityCritical BlockSeverity = "critical"
)

// BlockRecord is the audit record created whenever a device is blocked or a
// license is suspended. Once unblocked, the record is immutable.
type BlockRecord struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    uuid.UUID     `json:"tenant_id"`
	DeviceID    *uuid.UUID    `json:"device_id,omitempty"`
	Reason      string        `json:"reason"`
	Severity    BlockSeverity `json:"severity"`
	BlockedAt   time.Time     `json:"blocked_at"`
	UnblockedAt *time.Time    `json:"unblocked_at,omitempty"`
	UnblockedBy string        `json:"unblocked_by,omitempty"`
}

// NewBlockRecord creates a BlockRecord effective now.
func NewBlockRecord(tenantID uuid.UUID, deviceID *uuid.UUID, reason string, severity BlockSeverity) *BlockRecord {
	return &BlockRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		DeviceID:  deviceID,
		Reason:    reason,
		Severity:  severity,
		BlockedAt: time.Now(),
	}
}

// Unblock closes the record. It is a no-op if the record is already closed.
func (b *BlockRecord) Unblock(by string) {
	if b.UnblockedAt != nil {
		return
	}
	now := time.Now()
	b.UnblockedAt = &now
	b.UnblockedBy = by
}
