package limiter

import (
	"errors"
	"testing"
)

func TestAdmitEnforcesPerUserLimit(t *testing.T) {
	l := New(2, 10)

	if err := l.Admit("user-1"); err != nil {
		t.Fatalf("first admit failed: %v", err)
	}
	if err := l.Admit("user-1"); err != nil {
		t.Fatalf("second admit failed: %v", err)
	}

	err := l.Admit("user-1")
	var quota *QuotaError
	if !errors.As(err, &quota) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if quota.Scope != ScopeUser || quota.Limit != 2 {
		t.Fatalf("unexpected quota error: %+v", quota)
	}

	if err := l.Admit("user-2"); err != nil {
		t.Fatalf("other user should not be affected: %v", err)
	}
}

func TestAdmitEnforcesGlobalLimit(t *testing.T) {
	l := New(5, 2)

	if err := l.Admit("a"); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if err := l.Admit("b"); err != nil {
		t.Fatalf("admit b: %v", err)
	}

	err := l.Admit("c")
	var quota *QuotaError
	if !errors.As(err, &quota) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if quota.Scope != ScopeGlobal {
		t.Fatalf("expected global scope, got %s", quota.Scope)
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	l := New(1, 1)
	if err := l.Admit("user-1"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	l.Release("user-1")
	if err := l.Admit("user-1"); err != nil {
		t.Fatalf("admit after release: %v", err)
	}
	user, global := l.Active("user-1")
	if user != 1 || global != 1 {
		t.Fatalf("expected 1/1 active, got %d/%d", user, global)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := New(2, 2)
	l.Release("ghost")
	if err := l.Admit("a"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := l.Admit("b"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := l.Admit("c"); err == nil {
		t.Fatal("expected global quota error after spurious release")
	}
}

func TestRebuildReplacesCounters(t *testing.T) {
	l := New(3, 10)
	if err := l.Admit("stale"); err != nil {
		t.Fatalf("admit: %v", err)
	}

	l.Rebuild(map[string]int{"user-1": 3, "user-2": 1, "empty": 0})

	if _, global := l.Active("user-1"); global != 4 {
		t.Fatalf("expected global count 4 after rebuild, got %d", global)
	}
	if err := l.Admit("user-1"); err == nil {
		t.Fatal("expected user-1 at limit after rebuild")
	}
	if err := l.Admit("user-2"); err != nil {
		t.Fatalf("user-2 should have capacity: %v", err)
	}
	if user, _ := l.Active("stale"); user != 0 {
		t.Fatalf("stale counter should be gone, got %d", user)
	}
}
