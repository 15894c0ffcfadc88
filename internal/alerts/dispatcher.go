// Package alerts provides the best-effort alert dispatch boundary.
//
// Dispatch is fire-and-forget: failures are logged and swallowed, and a
// dispatch error never rolls back or blocks the state transition that
// triggered it. Callers must not hold locks across a Dispatch call.
package alerts

import (
	"context"

	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/rs/zerolog"
)

// Dispatcher delivers alerts to an external sink. Delivery is not guaranteed
// and is never retried by the callers.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *models.Alert)
}

// LogDispatcher writes alerts to the structured log. It is the default sink
// and the fallback when no external sink is configured.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{
		logger: logger.With().Str("component", "alert_log").Logger(),
	}
}

// Dispatch logs the alert at a level matching its severity.
func (d *LogDispatcher) Dispatch(_ context.Context, alert *models.Alert) {
	event := d.logger.Info()
	switch alert.Severity {
	case models.AlertSeverityWarning:
		event = d.logger.Warn()
	case models.AlertSeverityCritical:
		event = d.logger.Error()
	}

	event.
		Str("alert_type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Interface("data", alert.Data).
		Msg(alert.Message)
}

// Multi fans an alert out to several dispatchers in order.
type Multi []Dispatcher

// Dispatch delivers the alert to every dispatcher. A failing dispatcher does
// not prevent delivery to the rest.
func (m Multi) Dispatch(ctx context.Context, alert *models.Alert) {
	for _, d := range m {
		d.Dispatch(ctx, alert)
	}
}
