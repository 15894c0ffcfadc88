package registry

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a realtime event pushed to subscribers. The block and
// unblock values are kept as the legacy wire strings consumed by deployed
// clients.
type EventType string

const (
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeBlock     EventType = "bloqueio"
	EventTypeUnblock   EventType = "desbloqueio"

	// EventTypeSubscriptionConfirmed acknowledges a subscribe request.
	EventTypeSubscriptionConfirmed EventType = "subscription_confirmed"
)

// Event is a realtime message scoped to a single device.
type Event struct {
	Type      EventType      `json:"type"`
	DeviceID  uuid.UUID      `json:"device_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(eventType EventType, deviceID uuid.UUID, data map[string]any) Event {
	return Event{
		Type:      eventType,
		DeviceID:  deviceID,
		Data:      data,
		Timestamp: time.Now(),
	}
}
