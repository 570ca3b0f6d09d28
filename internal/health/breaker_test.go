package health

import (
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	now := time.Now()
	b := NewBreaker(3, 30*time.Second, func() time.Time { return now })

	if b.RecordFailure() {
		t.Fatal("breaker should not open on first failure")
	}
	if b.RecordFailure() {
		t.Fatal("breaker should not open on second failure")
	}
	if !b.RecordFailure() {
		t.Fatal("breaker should open on third consecutive failure")
	}
	if b.State() != domain.CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	if b.AllowProbe() {
		t.Fatal("open breaker must suppress probes during cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 30*time.Second, nil)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.RecordFailure() {
		t.Fatal("failure count should have reset after success")
	}
	if b.State() != domain.CircuitClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewBreaker(3, 30*time.Second, clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(31 * time.Second)

	if !b.AllowProbe() {
		t.Fatal("breaker should admit a trial probe after cooldown")
	}
	if b.State() != domain.CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if b.AllowProbe() {
		t.Fatal("half-open breaker must admit only one trial probe")
	}
	if !b.RecordSuccess() {
		t.Fatal("successful trial probe should report recovery")
	}
	if b.State() != domain.CircuitClosed {
		t.Fatalf("expected closed after recovery, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureRestartsCooldown(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewBreaker(3, 30*time.Second, clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(31 * time.Second)
	if !b.AllowProbe() {
		t.Fatal("expected trial probe after cooldown")
	}
	if !b.RecordFailure() {
		t.Fatal("failed trial probe should reopen the breaker")
	}
	if b.State() != domain.CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(29 * time.Second)
	if b.AllowProbe() {
		t.Fatal("cooldown should have restarted from the trial failure")
	}
	now = now.Add(2 * time.Second)
	if !b.AllowProbe() {
		t.Fatal("expected trial probe after restarted cooldown")
	}
}

func TestBreakerSnapshot(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, 30*time.Second, func() time.Time { return now })
	b.RecordFailure()

	state := b.Snapshot()
	if state.ConsecutiveFailures != 1 || state.CircuitState != domain.CircuitClosed {
		t.Fatalf("unexpected snapshot: %+v", state)
	}
	if state.CircuitOpenedAt != nil {
		t.Fatal("closed breaker should not report an opened timestamp")
	}

	b.RecordFailure()
	state = b.Snapshot()
	if state.CircuitState != domain.CircuitOpen || state.CircuitOpenedAt == nil {
		t.Fatalf("unexpected snapshot after opening: %+v", state)
	}
}
