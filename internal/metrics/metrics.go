// Package metrics exposes Prometheus instrumentation for the fleet server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors. Construct one per process
// and inject it; packages never register against the default registry.
type Metrics struct {
	HeartbeatsProcessed prometheus.Counter
	HeartbeatErrors     prometheus.Counter
	DevicesOnline       prometheus.Gauge
	DevicesBlocked      prometheus.Gauge

	EventsBroadcast      prometheus.Counter
	EventsDropped        prometheus.Counter
	SubscribersConnected prometheus.Gauge

	AlertsDispatched *prometheus.CounterVec
	SweepRuns        *prometheus.CounterVec
	SweepFailures    *prometheus.CounterVec
	SweepDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HeartbeatsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetguard_heartbeats_processed_total",
			Help: "Number of heartbeats accepted and applied.",
		}),
		HeartbeatErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetguard_heartbeat_errors_total",
			Help: "Number of heartbeats rejected or failed.",
		}),
		DevicesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetguard_devices_online",
			Help: "Devices currently reporting online.",
		}),
		DevicesBlocked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetguard_devices_blocked",
			Help: "Devices currently blocked.",
		}),
		EventsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetguard_events_broadcast_total",
			Help: "Events delivered to realtime subscribers.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetguard_events_dropped_total",
			Help: "Events dropped due to slow or failed subscribers.",
		}),
		SubscribersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetguard_subscribers_connected",
			Help: "Currently connected realtime subscribers.",
		}),
		AlertsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_alerts_dispatched_total",
			Help: "Alerts handed to the dispatcher, by type.",
		}, []string{"type"}),
		SweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_sweep_runs_total",
			Help: "Scheduled sweep executions, by job.",
		}, []string{"job"}),
		SweepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_sweep_failures_total",
			Help: "Scheduled sweep executions that returned an error, by job.",
		}, []string{"job"}),
		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetguard_sweep_duration_seconds",
			Help:    "Duration of scheduled sweep executions, by job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
