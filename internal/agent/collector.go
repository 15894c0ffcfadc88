package agent

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/MacJediWizard/fleetguard/internal/models"
)

// Collector gathers system metrics for heartbeat reports.
type Collector struct {
	mu            sync.Mutex
	lastNetSample *netSample
}

type netSample struct {
	sentBytes uint64
	recvBytes uint64
	takenAt   time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect gathers system metrics. Individual probe failures leave the
// corresponding field at zero rather than failing the whole collection.
func (c *Collector) Collect(ctx context.Context) *models.HeartbeatMetrics {
	m := &models.HeartbeatMetrics{}

	// CPU usage (average over 1 second)
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err == nil && len(cpuPercent) > 0 {
		m.CPUPct = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		m.MemPct = memStat.UsedPercent
	}

	diskPath := "/"
	if runtime.GOOS == "windows" {
		diskPath = "C:\\"
	}
	diskStat, err := disk.UsageWithContext(ctx, diskPath)
	if err == nil {
		m.DiskPct = diskStat.UsedPercent
	}

	m.TempC = cpuTemperature(ctx)

	pids, err := process.PidsWithContext(ctx)
	if err == nil {
		m.ProcessCount = len(pids)
	}

	m.NetUpMbps, m.NetDownMbps = c.networkRates(ctx)

	return m
}

// networkRates computes up/down throughput in Mbps from the byte-counter
// delta since the previous collection. The first call returns zeros.
func (c *Collector) networkRates(ctx context.Context) (up, down float64) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		return 0, 0
	}

	now := time.Now()
	sample := &netSample{
		sentBytes: counters[0].BytesSent,
		recvBytes: counters[0].BytesRecv,
		takenAt:   now,
	}

	c.mu.Lock()
	prev := c.lastNetSample
	c.lastNetSample = sample
	c.mu.Unlock()

	if prev == nil {
		return 0, 0
	}
	elapsed := now.Sub(prev.takenAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	// Counters reset when the interface restarts.
	if sample.sentBytes < prev.sentBytes || sample.recvBytes < prev.recvBytes {
		return 0, 0
	}

	const bitsPerMegabit = 1_000_000
	up = float64(sample.sentBytes-prev.sentBytes) * 8 / elapsed / bitsPerMegabit
	down = float64(sample.recvBytes-prev.recvBytes) * 8 / elapsed / bitsPerMegabit
	return up, down
}

// cpuTemperature returns the CPU package temperature in Celsius, or zero
// when no sensor is available.
func cpuTemperature(ctx context.Context) float64 {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(temps) == 0 {
		return 0
	}

	var fallback float64
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "coretemp") || strings.Contains(key, "package") {
			return t.Temperature
		}
		if t.Temperature > fallback {
			fallback = t.Temperature
		}
	}
	return fallback
}
