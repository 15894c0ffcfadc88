package monitoring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/metrics"
	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type stubSweeper struct {
	calls atomic.Int64
	err   error
}

func (s *stubSweeper) SweepStaleDevices(context.Context, time.Duration) ([]*models.Device, error) {
	s.calls.Add(1)
	return nil, s.err
}

type stubLicenseSweeper struct {
	calls atomic.Int64
}

func (s *stubLicenseSweeper) ExpirySweep(context.Context, time.Duration) ([]*models.License, error) {
	s.calls.Add(1)
	return nil, nil
}

type stubRenewalSweeper struct{}

func (stubRenewalSweeper) RenewalSweep(context.Context, time.Duration) ([]*models.Subscription, error) {
	return nil, nil
}

type stubRollup struct{}

func (stubRollup) GetGlobalMetricAverages(context.Context, time.Time) (*models.MetricAverages, error) {
	return &models.MetricAverages{}, nil
}

func (stubRollup) GlobalDeviceStatusCounts(context.Context) (map[models.DeviceStatus]int, error) {
	return map[models.DeviceStatus]int{models.DeviceStatusOnline: 2}, nil
}

func newTestMonitor(devices Sweeper, licenses LicenseSweeper) *Monitor {
	return New(DefaultConfig(), devices, licenses, stubRenewalSweeper{}, stubRollup{},
		metrics.New(prometheus.NewRegistry()), zerolog.Nop())
}

func TestTickSkipsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int64

	mon := newTestMonitor(&stubSweeper{}, &stubLicenseSweeper{})
	slow := &job{name: "slow", run: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.tick(context.Background(), slow)
	}()

	// Wait for the first run to be in flight, then fire an overlapping tick.
	for !slow.inflight.Load() {
		time.Sleep(time.Millisecond)
	}
	mon.tick(context.Background(), slow)

	if got := runs.Load(); got != 1 {
		t.Errorf("runs during overlap = %d, want 1", got)
	}

	close(release)
	wg.Wait()

	// With the first run finished, the job is runnable again.
	mon.tick(context.Background(), slow)
	if got := runs.Load(); got != 2 {
		t.Errorf("runs after release = %d, want 2", got)
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	mon := newTestMonitor(&stubSweeper{}, &stubLicenseSweeper{})
	panicky := &job{name: "panicky", run: func(context.Context) error {
		panic("sweep exploded")
	}}

	mon.tick(context.Background(), panicky)

	if panicky.inflight.Load() {
		t.Error("inflight flag stuck after panic")
	}
	// The job must be runnable again after a panic.
	mon.tick(context.Background(), panicky)
}

func TestFailingJobDoesNotAffectOthers(t *testing.T) {
	devices := &stubSweeper{err: errors.New("database down")}
	licenses := &stubLicenseSweeper{}
	mon := newTestMonitor(devices, licenses)

	mon.tick(context.Background(), mon.jobs[0])
	mon.tick(context.Background(), mon.jobs[1])

	if got := devices.calls.Load(); got != 1 {
		t.Errorf("device sweep calls = %d, want 1", got)
	}
	if got := licenses.calls.Load(); got != 1 {
		t.Errorf("license sweep calls = %d, want 1", got)
	}

	// The failing job keeps running on later ticks.
	mon.tick(context.Background(), mon.jobs[0])
	if got := devices.calls.Load(); got != 2 {
		t.Errorf("device sweep calls after failure = %d, want 2", got)
	}
}

func TestStartAndStopLifecycle(t *testing.T) {
	mon := newTestMonitor(&stubSweeper{}, &stubLicenseSweeper{})

	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mon.Start(context.Background()); err == nil {
		t.Error("second Start did not fail")
	}

	mon.Stop()
	// Stopping again is a no-op.
	mon.Stop()
}
