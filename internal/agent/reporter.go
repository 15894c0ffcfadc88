package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/models"
)

// HeartbeatSender sends heartbeat reports to the server.
type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context, hb *models.Heartbeat) error
}

// Reporter periodically collects metrics and sends heartbeats.
type Reporter struct {
	client     HeartbeatSender
	collector  *Collector
	identifier string
	appVersion string
	interval   time.Duration
	logger     zerolog.Logger

	mu          sync.Mutex
	lastLatency time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReporter creates a heartbeat reporter for the given device identifier.
func NewReporter(client HeartbeatSender, collector *Collector, identifier, appVersion string, interval time.Duration, logger zerolog.Logger) *Reporter {
	return &Reporter{
		client:     client,
		collector:  collector,
		identifier: identifier,
		appVersion: appVersion,
		interval:   interval,
		logger:     logger.With().Str("component", "reporter").Logger(),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the heartbeat loop. An immediate heartbeat is sent before
// the ticker takes over.
func (r *Reporter) Start() {
	r.wg.Add(1)
	go r.loop()

	r.logger.Info().
		Str("device", r.identifier).
		Dur("interval", r.interval).
		Msg("heartbeat reporter started")
}

// Stop gracefully stops the reporter.
func (r *Reporter) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info().Msg("heartbeat reporter stopped")
}

// SendOnce collects metrics and sends a single heartbeat.
func (r *Reporter) SendOnce(ctx context.Context) error {
	metrics := r.collector.Collect(ctx)

	r.mu.Lock()
	if r.lastLatency > 0 {
		metrics.LatencyMs = float64(r.lastLatency.Milliseconds())
	}
	r.mu.Unlock()

	hb := &models.Heartbeat{
		UniqueIdentifier: r.identifier,
		Status:           models.DeviceStatusOnline,
		Metrics:          metrics,
		AppVersion:       r.appVersion,
	}

	start := time.Now()
	err := r.client.SendHeartbeat(ctx, hb)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.lastLatency = time.Since(start)
	r.mu.Unlock()

	return nil
}

func (r *Reporter) loop() {
	defer r.wg.Done()

	r.send()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.send()
		}
	}
}

func (r *Reporter) send() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.SendOnce(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	r.logger.Debug().Msg("heartbeat sent")
}
