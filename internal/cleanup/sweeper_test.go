package cleanup

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

type fakeTarget struct {
	active  []domain.Deployment
	stopped []string
	reasons map[string]string
	failed  []string
}

func (f *fakeTarget) ActiveDeployments() []domain.Deployment { return f.active }

func (f *fakeTarget) ForceStop(id, reason string) {
	f.stopped = append(f.stopped, id)
	if f.reasons == nil {
		f.reasons = make(map[string]string)
	}
	f.reasons[id] = reason
}

func (f *fakeTarget) ForceFail(id, reason string) {
	f.failed = append(f.failed, id)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestSweepStopsIdleDeployment(t *testing.T) {
	now := time.Now()
	started := now.Add(-1900 * time.Second)
	target := &fakeTarget{active: []domain.Deployment{
		{
			ID:               "dep-idle",
			Status:           domain.StatusRunning,
			CreatedAt:        started,
			StartedRunningAt: &started,
			LastActivityAt:   now.Add(-1900 * time.Second),
		},
		{
			ID:               "dep-busy",
			Status:           domain.StatusRunning,
			CreatedAt:        started,
			StartedRunningAt: &started,
			LastActivityAt:   now.Add(-10 * time.Second),
		},
	}}

	s := New(target, time.Minute, 1800*time.Second, 24*time.Hour, 5*time.Minute, 10, discardLogger())
	s.now = func() time.Time { return now }

	s.Sweep()

	if len(target.stopped) != 1 || target.stopped[0] != "dep-idle" {
		t.Fatalf("expected only dep-idle stopped, got %v", target.stopped)
	}
	if target.reasons["dep-idle"] != "idle_timeout" {
		t.Fatalf("unexpected stop reason: %s", target.reasons["dep-idle"])
	}
}

func TestSweepStopsAgedOutDeployment(t *testing.T) {
	now := time.Now()
	old := now.Add(-25 * time.Hour)
	target := &fakeTarget{active: []domain.Deployment{
		{
			ID:               "dep-old",
			Status:           domain.StatusDegraded,
			CreatedAt:        old,
			StartedRunningAt: &old,
			LastActivityAt:   now,
		},
	}}

	s := New(target, time.Minute, 30*time.Minute, 24*time.Hour, 5*time.Minute, 10, discardLogger())
	s.now = func() time.Time { return now }

	s.Sweep()

	if target.reasons["dep-old"] != "max_sandbox_age" {
		t.Fatalf("expected max_sandbox_age stop, got %v", target.reasons)
	}
}

func TestSweepFailsOrphanedProvisioning(t *testing.T) {
	now := time.Now()
	target := &fakeTarget{active: []domain.Deployment{
		{
			ID:        "dep-orphan",
			Status:    domain.StatusProvisioning,
			UpdatedAt: now.Add(-10 * time.Minute),
		},
		{
			ID:        "dep-fresh",
			Status:    domain.StatusProvisioning,
			UpdatedAt: now.Add(-time.Minute),
		},
	}}

	s := New(target, time.Minute, 30*time.Minute, 24*time.Hour, 5*time.Minute, 10, discardLogger())
	s.now = func() time.Time { return now }

	s.Sweep()

	if len(target.failed) != 1 || target.failed[0] != "dep-orphan" {
		t.Fatalf("expected only dep-orphan failed, got %v", target.failed)
	}
	if len(target.stopped) != 0 {
		t.Fatalf("expected no stops, got %v", target.stopped)
	}
}

func TestSweepHonorsBatchLimit(t *testing.T) {
	now := time.Now()
	started := now.Add(-48 * time.Hour)
	var active []domain.Deployment
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		active = append(active, domain.Deployment{
			ID:               id,
			Status:           domain.StatusRunning,
			CreatedAt:        started,
			StartedRunningAt: &started,
			LastActivityAt:   started,
		})
	}
	target := &fakeTarget{active: active}

	s := New(target, time.Minute, 30*time.Minute, 24*time.Hour, 5*time.Minute, 2, discardLogger())
	s.now = func() time.Time { return now }

	s.Sweep()

	if len(target.stopped) != 2 {
		t.Fatalf("expected 2 stops per pass, got %d", len(target.stopped))
	}

	s.Sweep()
	if len(target.stopped) != 4 {
		t.Fatalf("expected next pass to stop 2 more, got %d total", len(target.stopped))
	}
}
