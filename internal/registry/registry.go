// Package registry tracks live realtime subscribers and performs lossy,
// best-effort fan-out of device events.
package registry

import (
	"sync"

	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscriber is a live transport handle. Send must be safe to call from the
// broadcast path; a returned error marks the subscriber dead and it is removed
// and closed, never retried.
type Subscriber interface {
	ID() uuid.UUID
	Send(event Event) error
	Close() error
}

// Registry holds subscribers keyed by tenant and by device. All maps are
// guarded by mu; no I/O happens under the lock.
type Registry struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	tenants   map[uuid.UUID]map[uuid.UUID]Subscriber // tenantID -> subID -> sub
	devices   map[uuid.UUID]map[uuid.UUID]Subscriber // deviceID -> subID -> sub
	subTenant map[uuid.UUID]uuid.UUID                // subID -> tenantID
}

// New creates an empty Registry.
func New(m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		logger:    logger.With().Str("component", "registry").Logger(),
		metrics:   m,
		tenants:   make(map[uuid.UUID]map[uuid.UUID]Subscriber),
		devices:   make(map[uuid.UUID]map[uuid.UUID]Subscriber),
		subTenant: make(map[uuid.UUID]uuid.UUID),
	}
}

// Connect registers sub under tenantID. Re-registration of the same
// subscriber is a no-op.
func (r *Registry) Connect(sub Subscriber, tenantID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subTenant[sub.ID()]; ok {
		return
	}

	if _, ok := r.tenants[tenantID]; !ok {
		r.tenants[tenantID] = make(map[uuid.UUID]Subscriber)
	}
	r.tenants[tenantID][sub.ID()] = sub
	r.subTenant[sub.ID()] = tenantID
	r.metrics.SubscribersConnected.Inc()

	r.logger.Debug().
		Str("subscriber_id", sub.ID().String()).
		Str("tenant_id", tenantID.String()).
		Msg("subscriber connected")
}

// Subscribe adds a device-level subscription for an already-connected
// subscriber and confirms it on the subscriber's transport.
func (r *Registry) Subscribe(sub Subscriber, deviceID uuid.UUID) {
	r.mu.Lock()
	if _, ok := r.subTenant[sub.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := r.devices[deviceID]; !ok {
		r.devices[deviceID] = make(map[uuid.UUID]Subscriber)
	}
	r.devices[deviceID][sub.ID()] = sub
	r.mu.Unlock()

	confirm := Event{
		Type:     EventTypeSubscriptionConfirmed,
		DeviceID: deviceID,
	}
	if err := sub.Send(confirm); err != nil {
		r.logger.Debug().Err(err).
			Str("subscriber_id", sub.ID().String()).
			Msg("subscription confirmation failed")
		r.Disconnect(sub)
	}
}

// Disconnect removes sub from its tenant map and every device subscription
// set, then closes it. Safe to call for an already-removed subscriber.
func (r *Registry) Disconnect(sub Subscriber) {
	r.mu.Lock()
	tenantID, ok := r.subTenant[sub.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subTenant, sub.ID())

	if tenantSubs, ok := r.tenants[tenantID]; ok {
		delete(tenantSubs, sub.ID())
		if len(tenantSubs) == 0 {
			delete(r.tenants, tenantID)
		}
	}
	for deviceID, deviceSubs := range r.devices {
		delete(deviceSubs, sub.ID())
		if len(deviceSubs) == 0 {
			delete(r.devices, deviceID)
		}
	}
	r.mu.Unlock()

	r.metrics.SubscribersConnected.Dec()
	if err := sub.Close(); err != nil {
		r.logger.Debug().Err(err).
			Str("subscriber_id", sub.ID().String()).
			Msg("subscriber close error")
	}

	r.logger.Debug().
		Str("subscriber_id", sub.ID().String()).
		Str("tenant_id", tenantID.String()).
		Msg("subscriber disconnected")
}

// Broadcast delivers event to every subscriber of event.DeviceID. The
// subscriber set is snapshotted under the read lock and sends happen outside
// it. A failed send removes that subscriber without affecting the rest.
func (r *Registry) Broadcast(event Event) {
	r.mu.RLock()
	deviceSubs := r.devices[event.DeviceID]
	snapshot := make([]Subscriber, 0, len(deviceSubs))
	for _, sub := range deviceSubs {
		snapshot = append(snapshot, sub)
	}
	r.mu.RUnlock()

	var dead []Subscriber
	for _, sub := range snapshot {
		if err := sub.Send(event); err != nil {
			r.metrics.EventsDropped.Inc()
			r.logger.Warn().Err(err).
				Str("subscriber_id", sub.ID().String()).
				Str("device_id", event.DeviceID.String()).
				Msg("subscriber send failed, removing")
			dead = append(dead, sub)
			continue
		}
		r.metrics.EventsBroadcast.Inc()
	}

	for _, sub := range dead {
		r.Disconnect(sub)
	}
}

// SubscriberCount returns the number of connected subscribers for a tenant.
func (r *Registry) SubscriberCount(tenantID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants[tenantID])
}
