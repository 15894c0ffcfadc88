// Package monitoring runs the periodic sweep jobs on independent cadences.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper exposes the liveness sweep entry point.
type Sweeper interface {
	SweepStaleDevices(ctx context.Context, threshold time.Duration) ([]*models.Device, error)
}

// LicenseSweeper exposes the license expiry sweep entry point.
type LicenseSweeper interface {
	ExpirySweep(ctx context.Context, lookahead time.Duration) ([]*models.License, error)
}

// RenewalSweeper exposes the subscription renewal sweep entry point.
type RenewalSweeper interface {
	RenewalSweep(ctx context.Context, lookahead time.Duration) ([]*models.Subscription, error)
}

// RollupStore provides the reads for the metrics roll-up job.
type RollupStore interface {
	GetGlobalMetricAverages(ctx context.Context, since time.Time) (*models.MetricAverages, error)
	GlobalDeviceStatusCounts(ctx context.Context) (map[models.DeviceStatus]int, error)
}

// Config holds the cadences and windows of the sweep jobs.
type Config struct {
	// OfflineSweepInterval is how often the device staleness sweep runs.
	OfflineSweepInterval time.Duration
	// StaleThreshold is how long a device may stay silent before it is
	// considered offline.
	StaleThreshold time.Duration
	// LicenseSweepInterval is how often the license expiry sweep runs.
	LicenseSweepInterval time.Duration
	// LicenseLookahead is the expiry warning window.
	LicenseLookahead time.Duration
	// RenewalSweepInterval is how often the subscription renewal sweep runs.
	RenewalSweepInterval time.Duration
	// RenewalLookahead is the auto-renewal window.
	RenewalLookahead time.Duration
	// RollupInterval is how often fleet metric averages are logged.
	RollupInterval time.Duration
	// RollupWindow is the averaging window of the roll-up.
	RollupWindow time.Duration
}

// DefaultConfig returns a Config with the production cadences.
func DefaultConfig() Config {
	return Config{
		OfflineSweepInterval: 5 * time.Minute,
		StaleThreshold:       5 * time.Minute,
		LicenseSweepInterval: time.Hour,
		LicenseLookahead:     7 * 24 * time.Hour,
		RenewalSweepInterval: 6 * time.Hour,
		RenewalLookahead:     3 * 24 * time.Hour,
		RollupInterval:       30 * time.Minute,
		RollupWindow:         time.Hour,
	}
}

// job is one scheduled sweep. The inflight flag skips a tick while the
// previous execution is still running; the tick is dropped, not queued.
type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	inflight atomic.Bool
}

// Monitor drives the sweep jobs. One job failing or panicking never prevents
// other jobs from running or future ticks of the same job.
type Monitor struct {
	config  Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	cron    *cron.Cron
	jobs    []*job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a Monitor wiring the sweep jobs to their services.
func New(cfg Config, devices Sweeper, licenses LicenseSweeper, renewals RenewalSweeper, rollup RollupStore, m *metrics.Metrics, logger zerolog.Logger) *Monitor {
	mon := &Monitor{
		config:  cfg,
		metrics: m,
		logger:  logger.With().Str("component", "monitor").Logger(),
		cron:    cron.New(),
	}

	mon.jobs = []*job{
		{name: "device_offline_sweep", interval: cfg.OfflineSweepInterval, run: func(ctx context.Context) error {
			transitioned, err := devices.SweepStaleDevices(ctx, cfg.StaleThreshold)
			if err != nil {
				return err
			}
			if len(transitioned) > 0 {
				mon.logger.Info().Int("count", len(transitioned)).Msg("devices marked offline")
			}
			return nil
		}},
		{name: "license_expiry_sweep", interval: cfg.LicenseSweepInterval, run: func(ctx context.Context) error {
			expiring, err := licenses.ExpirySweep(ctx, cfg.LicenseLookahead)
			if err != nil {
				return err
			}
			if len(expiring) > 0 {
				mon.logger.Info().Int("count", len(expiring)).Msg("licenses expiring soon")
			}
			return nil
		}},
		{name: "subscription_renewal_sweep", interval: cfg.RenewalSweepInterval, run: func(ctx context.Context) error {
			renewed, err := renewals.RenewalSweep(ctx, cfg.RenewalLookahead)
			if err != nil {
				return err
			}
			if len(renewed) > 0 {
				mon.logger.Info().Int("count", len(renewed)).Msg("subscriptions auto-renewed")
			}
			return nil
		}},
		{name: "metrics_rollup", interval: cfg.RollupInterval, run: func(ctx context.Context) error {
			averages, err := rollup.GetGlobalMetricAverages(ctx, time.Now().Add(-cfg.RollupWindow))
			if err != nil {
				return err
			}
			counts, err := rollup.GlobalDeviceStatusCounts(ctx)
			if err != nil {
				return err
			}
			m.DevicesOnline.Set(float64(counts[models.DeviceStatusOnline]))
			m.DevicesBlocked.Set(float64(counts[models.DeviceStatusBlocked]))
			mon.logger.Info().
				Float64("cpu_pct", averages.CPUPct).
				Float64("mem_pct", averages.MemPct).
				Float64("disk_pct", averages.DiskPct).
				Int("samples", averages.SampleCount).
				Int("online", counts[models.DeviceStatusOnline]).
				Msg("fleet metric averages")
			return nil
		}},
	}

	return mon
}

// Start schedules the jobs and starts the cron loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, j := range m.jobs {
		j := j
		if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", j.interval), func() {
			m.tick(runCtx, j)
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	m.cron.Start()
	m.running = true
	m.logger.Info().Msg("monitor started")
	return nil
}

// Stop stops the cron loop and waits for in-flight jobs to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	m.cancel()
	m.running = false
	m.logger.Info().Msg("monitor stopped")
}

// tick runs one job execution with overlap skip and panic isolation.
func (m *Monitor) tick(ctx context.Context, j *job) {
	if !j.inflight.CompareAndSwap(false, true) {
		m.logger.Warn().Str("job", j.name).Msg("previous run still in progress, skipping tick")
		return
	}
	defer j.inflight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			m.metrics.SweepFailures.WithLabelValues(j.name).Inc()
			m.logger.Error().Str("job", j.name).Interface("panic", r).Msg("sweep job panicked")
		}
	}()

	start := time.Now()
	m.metrics.SweepRuns.WithLabelValues(j.name).Inc()

	if err := j.run(ctx); err != nil {
		m.metrics.SweepFailures.WithLabelValues(j.name).Inc()
		m.logger.Error().Err(err).Str("job", j.name).Msg("sweep job failed")
	}

	m.metrics.SweepDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
}
