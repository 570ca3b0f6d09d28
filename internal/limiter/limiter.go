package limiter

import (
	"fmt"
	"sync"
)

// Scope names which capacity bound rejected an admission.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeGlobal Scope = "global"
)

// QuotaError reports an admission rejection and the limit that was hit.
type QuotaError struct {
	Scope Scope
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit %d reached", e.Scope, e.Limit)
}

// Limiter tracks concurrent sandbox counts per user and globally. Release is
// driven exclusively by the orchestrator's terminal-transition hook so a
// token can never leak on a crash path: counters are rebuilt from a registry
// scan at startup, not trusted across restarts.
type Limiter struct {
	mu           sync.Mutex
	perUser      map[string]int
	globalActive int
	maxPerUser   int
	maxGlobal    int
}

// New constructs a Limiter with the given capacity bounds.
func New(maxPerUser, maxGlobal int) *Limiter {
	return &Limiter{
		perUser:    make(map[string]int),
		maxPerUser: maxPerUser,
		maxGlobal:  maxGlobal,
	}
}

// Admit reserves one slot for the owner or reports which limit blocked it.
func (l *Limiter) Admit(ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.globalActive >= l.maxGlobal {
		return &QuotaError{Scope: ScopeGlobal, Limit: l.maxGlobal}
	}
	if l.perUser[ownerID] >= l.maxPerUser {
		return &QuotaError{Scope: ScopeUser, Limit: l.maxPerUser}
	}
	l.perUser[ownerID]++
	l.globalActive++
	return nil
}

// Release returns one slot. Callers must release exactly once per admitted
// deployment; the orchestrator guarantees this via its terminal hook.
func (l *Limiter) Release(ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perUser[ownerID] > 0 {
		l.perUser[ownerID]--
		if l.perUser[ownerID] == 0 {
			delete(l.perUser, ownerID)
		}
	}
	if l.globalActive > 0 {
		l.globalActive--
	}
}

// Rebuild replaces the counters with the given per-owner active counts,
// typically from a repository scan after a restart.
func (l *Limiter) Rebuild(counts map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perUser = make(map[string]int, len(counts))
	l.globalActive = 0
	for owner, count := range counts {
		if count <= 0 {
			continue
		}
		l.perUser[owner] = count
		l.globalActive += count
	}
}

// Active reports current per-owner and global usage.
func (l *Limiter) Active(ownerID string) (user, global int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perUser[ownerID], l.globalActive
}
