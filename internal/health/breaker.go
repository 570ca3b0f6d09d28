package health

import (
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

// Breaker is a per-deployment circuit breaker gating health probes.
//
// CLOSED: probes run; consecutive failures up to the threshold open it.
// OPEN: probes are suspended until the cooldown elapses, then HALF_OPEN.
// HALF_OPEN: exactly one probe runs; success closes, failure reopens.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state         string
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// NewBreaker constructs a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if threshold < 1 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
		state:     domain.CircuitClosed,
	}
}

// AllowProbe reports whether a probe may be issued now. An OPEN breaker whose
// cooldown has elapsed moves to HALF_OPEN and admits a single trial probe.
func (b *Breaker) AllowProbe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case domain.CircuitClosed:
		return true
	case domain.CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = domain.CircuitHalfOpen
		b.probeInFlight = true
		return true
	case domain.CircuitHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess registers a healthy probe. Returns true when the breaker
// transitioned from HALF_OPEN back to CLOSED (recovery).
func (b *Breaker) RecordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
	b.failures = 0
	if b.state == domain.CircuitHalfOpen {
		b.state = domain.CircuitClosed
		b.openedAt = time.Time{}
		return true
	}
	return false
}

// RecordFailure registers a failed probe. Returns true when the breaker
// opened as a result (either threshold reached or HALF_OPEN trial failed).
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
	switch b.state {
	case domain.CircuitHalfOpen:
		b.state = domain.CircuitOpen
		b.openedAt = b.now()
		return true
	case domain.CircuitClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = domain.CircuitOpen
			b.openedAt = b.now()
			return true
		}
	}
	return false
}

// Snapshot exports the breaker position as a domain health state.
func (b *Breaker) Snapshot() domain.HealthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := domain.HealthState{
		ConsecutiveFailures: b.failures,
		CircuitState:        b.state,
	}
	if !b.openedAt.IsZero() {
		opened := b.openedAt
		state.CircuitOpenedAt = &opened
	}
	return state
}

// State returns the current circuit position.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
