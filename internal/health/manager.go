// Package health runs periodic checks on the relay: idle session cleanup,
// disk utilization of the capture volume and upstream reachability.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/events"
	"github.com/energizer-project/ragol/internal/util"
)

// Alert levels.
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

// StaleCleaner closes idle sessions.
type StaleCleaner interface {
	CleanStale(timeout time.Duration) int
}

// Manager runs the relay health checks.
type Manager struct {
	cfg         config.HealthConfig
	upstream    string
	dialTimeout time.Duration
	idleTimeout time.Duration
	sessions    StaleCleaner
	bus         *events.Bus
	dataPath    string
	logger      zerolog.Logger

	// diskUsage is replaceable in tests.
	diskUsage func(path string) util.ResourceUsage

	mu           sync.Mutex
	upstreamDown bool
}

// NewManager creates a health manager for a relay. idleTimeout is the
// session read timeout; sessions idle longer are closed. dataPath is the
// capture database whose volume is watched.
func NewManager(cfg config.HealthConfig, relay config.RelayConfig, sessions StaleCleaner, bus *events.Bus, dataPath string) *Manager {
	return &Manager{
		cfg:         cfg,
		upstream:    relay.Upstream,
		dialTimeout: relay.DialTimeout(),
		idleTimeout: relay.ReadTimeout(),
		sessions:    sessions,
		bus:         bus,
		dataPath:    dataPath,
		diskUsage:   util.GetResourceUsage,
		logger:      log.With().Str("component", "health").Logger(),
	}
}

// Start launches every enabled check and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"stale_sessions", m.cfg.StaleCheckSec, m.checkStaleSessions},
		{"disk_utilization", m.cfg.DiskCheckSec, m.checkDiskUtilization},
		{"upstream", m.cfg.UpstreamCheckSec, m.checkUpstream},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			m.logger.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

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

	m.logger.Info().Int("checks", started).Msg("health check manager started")
	<-ctx.Done()
	wg.Wait()
	m.logger.Info().Msg("health check manager stopped")
}

// checkStaleSessions closes sessions idle longer than the read timeout.
func (m *Manager) checkStaleSessions(ctx context.Context) {
	if m.sessions == nil || m.idleTimeout <= 0 {
		return
	}
	if cleaned := m.sessions.CleanStale(m.idleTimeout); cleaned > 0 {
		m.logger.Info().Int("cleaned", cleaned).Msg("closed stale sessions")
	}
}

// checkDiskUtilization alerts when the capture volume fills up.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	usage := m.diskUsage(m.dataPath)
	m.logger.Debug().
		Float64("used_percent", usage.DiskUsedPct).
		Uint64("free_mb", usage.DiskFreeMB).
		Msg("disk utilization")

	level := diskLevel(usage.DiskUsedPct, m.cfg.DiskWarnPercent)
	if level == "" {
		return
	}
	message := fmt.Sprintf("Disk usage at %.1f%% (%d MB free)", usage.DiskUsedPct, usage.DiskFreeMB)
	m.logger.Warn().Str("level", level).Msg(message)
	m.alert(ctx, "disk_utilization", level, message)
}

// diskLevel grades usage against the warning threshold. Below it there is
// no alert.
func diskLevel(used, warnAt float64) string {
	if warnAt <= 0 {
		return ""
	}
	switch {
	case used >= 100:
		return LevelCritical
	case used >= 95:
		return LevelError
	case used >= warnAt:
		return LevelWarning
	default:
		return ""
	}
}

// checkUpstream dials the upstream server and alerts on state changes.
func (m *Manager) checkUpstream(ctx context.Context) {
	if m.upstream == "" {
		return
	}
	dialer := net.Dialer{Timeout: m.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.upstream)
	if err == nil {
		conn.Close()
	}
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	wasDown := m.upstreamDown
	m.upstreamDown = err != nil
	m.mu.Unlock()

	switch {
	case err != nil && !wasDown:
		m.logger.Warn().Err(err).Str("upstream", m.upstream).Msg("upstream unreachable")
		m.alert(ctx, "upstream", LevelError, fmt.Sprintf("upstream %s unreachable: %v", m.upstream, err))
	case err == nil && wasDown:
		m.logger.Info().Str("upstream", m.upstream).Msg("upstream reachable again")
		m.alert(ctx, "upstream", LevelInfo, fmt.Sprintf("upstream %s reachable again", m.upstream))
	}
}

// UpstreamDown reports the result of the last upstream check.
func (m *Manager) UpstreamDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upstreamDown
}

func (m *Manager) alert(ctx context.Context, check, level, message string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(ctx, events.Event{
		Type: events.HealthAlert,
		Time: time.Now().UTC(),
		Payload: events.HealthPayload{
			Check:   check,
			Level:   level,
			Message: message,
		},
	})
}
