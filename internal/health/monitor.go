// Package health runs periodic checks against the live session and the host
// and publishes a heartbeat for telemetry.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/ladderbridge/internal/config"
	"github.com/energizer-project/ladderbridge/internal/events"
	"github.com/energizer-project/ladderbridge/internal/relay"
	"github.com/energizer-project/ladderbridge/internal/session"
	"github.com/energizer-project/ladderbridge/internal/util"
)

// StallWarnAfter is how long a single relayed request may wait on the
// engine before it is reported.
const StallWarnAfter = 30 * time.Second

// StatusSource reports the live session.
type StatusSource interface {
	Status() session.Status
}

// Monitor runs the periodic checks.
type Monitor struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	status   StatusSource
	diskPath string
	logger   zerolog.Logger

	// usage is replaced in tests.
	usage func(path string) util.HostUsage

	mu       sync.Mutex
	warnings map[string]bool
}

// NewMonitor creates a monitor. diskPath selects the volume whose free space
// is watched, normally the log directory.
func NewMonitor(cfg config.HealthConfig, eventBus *events.EventBus, status StatusSource, diskPath string) *Monitor {
	return &Monitor{
		cfg:      cfg,
		eventBus: eventBus,
		status:   status,
		diskPath: diskPath,
		usage:    util.GetHostUsage,
		warnings: make(map[string]bool),
		logger:   util.ComponentLogger("health"),
	}
}

// Start runs the checks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"engine_resources", m.cfg.CheckIntervalSec, m.checkEngineResources},
		{"relay_stall", m.cfg.CheckIntervalSec, m.checkRelayStall},
		{"disk_utilization", m.cfg.CheckIntervalSec, m.checkDiskUtilization},
		{"heartbeat", m.cfg.HeartbeatIntervalSec, m.heartbeat},
	}

	var wg sync.WaitGroup
	for _, check := range checks {
		check := check
		if check.interval <= 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("interval_sec", m.cfg.CheckIntervalSec).Msg("health monitor started")
	<-ctx.Done()
	wg.Wait()
	m.logger.Info().Msg("health monitor stopped")
}

// raise records a warning condition and reports whether it is new.
func (m *Monitor) raise(name string, on bool) (changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warnings[name] == on {
		return false
	}
	m.warnings[name] = on
	return true
}

func (m *Monitor) checkEngineResources(ctx context.Context) {
	st := m.status.Status()
	if st.EnginePID == 0 || st.EndedAt != nil {
		return
	}

	m.logger.Debug().
		Int("pid", st.EnginePID).
		Float64("cpu_percent", st.EngineCPU).
		Float64("memory_mb", st.EngineMemoryMB).
		Msg("engine resources")

	if m.cfg.EngineMemoryWarnMB <= 0 {
		return
	}
	high := st.EngineMemoryMB >= m.cfg.EngineMemoryWarnMB
	if !m.raise("engine_memory", high) {
		return
	}
	if high {
		m.logger.Warn().
			Float64("memory_mb", st.EngineMemoryMB).
			Float64("threshold_mb", m.cfg.EngineMemoryWarnMB).
			Msg("engine memory above threshold")
	} else {
		m.logger.Info().Float64("memory_mb", st.EngineMemoryMB).Msg("engine memory back below threshold")
	}
}

func (m *Monitor) checkRelayStall(ctx context.Context) {
	st := m.status.Status()
	stalled := st.Relay.State == relay.StateForwarding && !st.Relay.LastAt.IsZero() &&
		time.Since(st.Relay.LastAt) > StallWarnAfter
	if !m.raise("relay_stall", stalled) {
		return
	}
	if stalled {
		m.logger.Warn().
			Str("request", st.Relay.LastRequest).
			Dur("waiting", time.Since(st.Relay.LastAt)).
			Msg("engine slow to answer relayed request")
	} else {
		m.logger.Info().Msg("relay moving again")
	}
}

func (m *Monitor) checkDiskUtilization(ctx context.Context) {
	if m.cfg.MinDiskFreeGB == 0 {
		return
	}
	usage := m.usage(m.diskPath)
	low := usage.DiskFreeGB < m.cfg.MinDiskFreeGB
	if !m.raise("disk_free", low) {
		return
	}
	if low {
		m.logger.Warn().
			Str("path", m.diskPath).
			Uint64("free_gb", usage.DiskFreeGB).
			Uint64("min_gb", m.cfg.MinDiskFreeGB).
			Msg("low disk space")
	} else {
		m.logger.Info().Uint64("free_gb", usage.DiskFreeGB).Msg("disk space recovered")
	}
}

// heartbeat emits the current session snapshot.
func (m *Monitor) heartbeat(ctx context.Context) {
	st := m.status.Status()
	usage := m.usage(m.diskPath)

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHeartbeat,
		Source: "health",
		Payload: events.HeartbeatPayload{
			SessionID:       st.ID,
			State:           st.State,
			EnginePID:       st.EnginePID,
			EngineCPU:       st.EngineCPU,
			EngineMemoryMB:  st.EngineMemoryMB,
			ClientConnected: st.ClientConnected,
			Forwarded:       st.Relay.Forwarded,
			HostCPU:         usage.CPUPercent,
			HostMemory:      usage.MemoryPercent,
			DiskFreeGB:      usage.DiskFreeGB,
			Timestamp:       time.Now(),
		},
	})
}
