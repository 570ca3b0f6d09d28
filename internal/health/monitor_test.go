package health

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
	"github.com/Jackwwg83/coderunner2/internal/provider"
)

type probeClient struct {
	mu     sync.Mutex
	result provider.ProbeResult
	probes int
}

func (c *probeClient) Create(context.Context, domain.RuntimeSpec, domain.SandboxLimits) (provider.Sandbox, error) {
	return provider.Sandbox{}, nil
}

func (c *probeClient) Destroy(context.Context, string) error { return nil }

func (c *probeClient) Probe(context.Context, string, string) (provider.ProbeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes++
	return c.result, nil
}

func (c *probeClient) setResult(r provider.ProbeResult) {
	c.mu.Lock()
	c.result = r
	c.mu.Unlock()
}

func (c *probeClient) probeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

type recordingSink struct {
	mu        sync.Mutex
	degraded  int
	recovered int
	observed  int
	lastState domain.HealthState
}

func (s *recordingSink) HealthDegraded(_ string, state domain.HealthState) {
	s.mu.Lock()
	s.degraded++
	s.lastState = state
	s.mu.Unlock()
}

func (s *recordingSink) HealthRecovered(_ string, state domain.HealthState) {
	s.mu.Lock()
	s.recovered++
	s.lastState = state
	s.mu.Unlock()
}

func (s *recordingSink) ProbeObserved(_ string, _ provider.ProbeResult, _ time.Duration, state domain.HealthState) {
	s.mu.Lock()
	s.observed++
	s.lastState = state
	s.mu.Unlock()
}

func (s *recordingSink) counts() (degraded, recovered, observed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded, s.recovered, s.observed
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func fastProfile() domain.TimeoutProfile {
	return domain.TimeoutProfile{HealthCheck: 5 * time.Millisecond, GracePeriod: 0}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestMonitorReportsDegradedAfterThresholdFailures(t *testing.T) {
	client := &probeClient{result: provider.ProbeUnhealthy}
	sink := &recordingSink{}
	m := NewMonitor(client, []string{"/healthz"}, 3, 50*time.Millisecond, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, "dep-1", "sb-1", fastProfile())

	waitUntil(t, func() bool {
		degraded, _, _ := sink.counts()
		return degraded == 1
	})

	sink.mu.Lock()
	state := sink.lastState
	sink.mu.Unlock()
	if state.CircuitState != domain.CircuitOpen {
		t.Fatalf("expected open circuit on degradation, got %s", state.CircuitState)
	}
	if state.ConsecutiveFailures < 3 {
		t.Fatalf("expected at least 3 consecutive failures, got %d", state.ConsecutiveFailures)
	}
}

func TestMonitorRecoversThroughHalfOpenProbe(t *testing.T) {
	client := &probeClient{result: provider.ProbeUnhealthy}
	sink := &recordingSink{}
	m := NewMonitor(client, []string{"/healthz"}, 3, 30*time.Millisecond, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, "dep-1", "sb-1", fastProfile())

	waitUntil(t, func() bool {
		degraded, _, _ := sink.counts()
		return degraded == 1
	})

	client.setResult(provider.ProbeHealthy)
	waitUntil(t, func() bool {
		_, recovered, _ := sink.counts()
		return recovered == 1
	})

	sink.mu.Lock()
	state := sink.lastState
	sink.mu.Unlock()
	if state.CircuitState != domain.CircuitClosed {
		t.Fatalf("expected closed circuit after recovery, got %s", state.CircuitState)
	}
}

func TestMonitorSuppressesProbesWhileOpen(t *testing.T) {
	client := &probeClient{result: provider.ProbeUnhealthy}
	sink := &recordingSink{}
	// Long cooldown so the circuit stays open for the rest of the test.
	m := NewMonitor(client, []string{"/healthz"}, 3, time.Minute, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, "dep-1", "sb-1", fastProfile())

	waitUntil(t, func() bool {
		degraded, _, _ := sink.counts()
		return degraded == 1
	})
	atOpen := client.probeCount()

	time.Sleep(50 * time.Millisecond)
	if got := client.probeCount(); got != atOpen {
		t.Fatalf("expected no probes while circuit open, got %d extra", got-atOpen)
	}
}

func TestMonitorUnwatchStopsLoop(t *testing.T) {
	client := &probeClient{result: provider.ProbeHealthy}
	sink := &recordingSink{}
	m := NewMonitor(client, []string{"/healthz"}, 3, 50*time.Millisecond, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, "dep-1", "sb-1", fastProfile())

	waitUntil(t, func() bool { return client.probeCount() > 0 })
	m.Unwatch("dep-1")
	waitUntil(t, func() bool { return !m.Watching("dep-1") })

	settled := client.probeCount()
	time.Sleep(30 * time.Millisecond)
	if got := client.probeCount(); got > settled+1 {
		t.Fatalf("probe loop kept running after unwatch: %d -> %d", settled, got)
	}
}

func TestMonitorGracePeriodDelaysFirstProbe(t *testing.T) {
	client := &probeClient{result: provider.ProbeHealthy}
	sink := &recordingSink{}
	m := NewMonitor(client, []string{"/healthz"}, 3, 50*time.Millisecond, sink, testLogger())

	profile := domain.TimeoutProfile{HealthCheck: 5 * time.Millisecond, GracePeriod: 80 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, "dep-1", "sb-1", profile)

	time.Sleep(40 * time.Millisecond)
	if got := client.probeCount(); got != 0 {
		t.Fatalf("expected no probes during grace period, got %d", got)
	}
	waitUntil(t, func() bool { return client.probeCount() > 0 })
}
