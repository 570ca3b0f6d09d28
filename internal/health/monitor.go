package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
	"github.com/Jackwwg83/coderunner2/internal/provider"
)

// Sink receives probe verdicts. Implemented by the orchestrator, which turns
// them into RUNNING/DEGRADED transitions and metric events.
type Sink interface {
	HealthDegraded(deploymentID string, state domain.HealthState)
	HealthRecovered(deploymentID string, state domain.HealthState)
	ProbeObserved(deploymentID string, result provider.ProbeResult, latency time.Duration, state domain.HealthState)
}

// Monitor runs one probe loop per watched deployment. At most one loop per
// deployment ID exists at any time.
type Monitor struct {
	provider  provider.Client
	paths     []string
	threshold int
	cooldown  time.Duration
	sink      Sink
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewMonitor constructs a Monitor probing the given endpoint paths in order.
func NewMonitor(client provider.Client, paths []string, threshold int, cooldown time.Duration, sink Sink, logger *slog.Logger) *Monitor {
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	if logger != nil {
		logger = logger.With("component", "health")
	}
	return &Monitor{
		provider:  client,
		paths:     paths,
		threshold: threshold,
		cooldown:  cooldown,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		active:    make(map[string]context.CancelFunc),
	}
}

// Watch starts the probe loop for a deployment that entered RUNNING. Probing
// is suppressed for the profile's grace period. A previous loop for the same
// ID is cancelled first.
func (m *Monitor) Watch(ctx context.Context, deploymentID, handle string, profile domain.TimeoutProfile) {
	loopCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if existing, ok := m.active[deploymentID]; ok {
		existing()
	}
	m.active[deploymentID] = cancel
	m.mu.Unlock()

	breaker := NewBreaker(m.threshold, m.cooldown, m.now)
	go m.loop(loopCtx, deploymentID, handle, profile, breaker)
}

// Unwatch cancels the probe loop for a deployment.
func (m *Monitor) Unwatch(deploymentID string) {
	m.mu.Lock()
	cancel, ok := m.active[deploymentID]
	if ok {
		delete(m.active, deploymentID)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Watching reports whether a deployment currently has a probe loop.
func (m *Monitor) Watching(deploymentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[deploymentID]
	return ok
}

func (m *Monitor) loop(ctx context.Context, deploymentID, handle string, profile domain.TimeoutProfile, breaker *Breaker) {
	defer m.Unwatch(deploymentID)

	if profile.GracePeriod > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(profile.GracePeriod):
		}
	}

	interval := profile.HealthCheck
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !breaker.AllowProbe() {
				continue
			}
			m.probeOnce(ctx, deploymentID, handle, interval, breaker)
		}
	}
}

// probeOnce tries the configured paths in order; the first reachable one
// wins, and all unreachable counts as a single failure.
func (m *Monitor) probeOnce(ctx context.Context, deploymentID, handle string, interval time.Duration, breaker *Breaker) {
	probeCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	start := m.now()
	result := provider.ProbeUnhealthy
	for _, path := range m.paths {
		r, err := m.provider.Probe(probeCtx, handle, path)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("probe call failed", "deployment_id", deploymentID, "path", path, "error", err)
			}
			if probeCtx.Err() != nil {
				result = provider.ProbeTimeout
				break
			}
			continue
		}
		result = r
		if r == provider.ProbeHealthy {
			break
		}
	}
	latency := m.now().Sub(start)

	if result == provider.ProbeHealthy {
		recovered := breaker.RecordSuccess()
		state := breaker.Snapshot()
		m.sink.ProbeObserved(deploymentID, result, latency, state)
		if recovered {
			m.sink.HealthRecovered(deploymentID, state)
		}
		return
	}

	opened := breaker.RecordFailure()
	state := breaker.Snapshot()
	m.sink.ProbeObserved(deploymentID, result, latency, state)
	if opened {
		m.sink.HealthDegraded(deploymentID, state)
	}
}
