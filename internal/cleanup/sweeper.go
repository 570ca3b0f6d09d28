package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

// Target is the slice of the orchestrator the sweeper drives: a snapshot of
// active deployments plus the forced-teardown hooks.
type Target interface {
	ActiveDeployments() []domain.Deployment
	ForceStop(deploymentID, reason string)
	ForceFail(deploymentID, reason string)
}

// Sweeper periodically reaps deployments that outlived their welcome: idle
// sandboxes, sandboxes past the absolute age cap, and provisioning records
// orphaned by a crash. Each pass stops at most batchSize deployments so a
// mass expiry cannot stampede the provider.
type Sweeper struct {
	target        Target
	interval      time.Duration
	maxIdle       time.Duration
	maxAge        time.Duration
	orphanTimeout time.Duration
	batchSize     int
	logger        *slog.Logger
	now           func() time.Time
}

// New constructs a Sweeper. Zero durations disable the corresponding rule.
func New(target Target, interval, maxIdle, maxAge, orphanTimeout time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize < 1 {
		batchSize = 10
	}
	if logger != nil {
		logger = logger.With("component", "cleanup")
	}
	return &Sweeper{
		target:        target,
		interval:      interval,
		maxIdle:       maxIdle,
		maxAge:        maxAge,
		orphanTimeout: orphanTimeout,
		batchSize:     batchSize,
		logger:        logger,
		now:           time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("cleanup sweeper started", "interval", s.interval, "batch_size", s.batchSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass. Exported so startup recovery and tests can invoke it
// directly.
func (s *Sweeper) Sweep() {
	now := s.now()
	stopped := 0

	for _, d := range s.target.ActiveDeployments() {
		if stopped >= s.batchSize {
			s.logger.Info("cleanup batch limit reached, deferring remainder", "batch_size", s.batchSize)
			return
		}
		switch d.Status {
		case domain.StatusRunning, domain.StatusDegraded:
			if s.maxAge > 0 && now.Sub(d.CreatedAt) > s.maxAge {
				s.logger.Info("stopping aged-out deployment", "deployment_id", d.ID, "age", now.Sub(d.CreatedAt))
				s.target.ForceStop(d.ID, "max_sandbox_age")
				stopped++
				continue
			}
			if s.maxIdle > 0 && now.Sub(d.LastActivityAt) > s.maxIdle {
				s.logger.Info("stopping idle deployment", "deployment_id", d.ID, "idle", now.Sub(d.LastActivityAt))
				s.target.ForceStop(d.ID, "idle_timeout")
				stopped++
			}
		case domain.StatusPending, domain.StatusProvisioning:
			if s.orphanTimeout > 0 && now.Sub(d.UpdatedAt) > s.orphanTimeout {
				s.logger.Warn("failing orphaned provisioning deployment", "deployment_id", d.ID, "stuck_for", now.Sub(d.UpdatedAt))
				s.target.ForceFail(d.ID, "provisioning orphaned past timeout")
				stopped++
			}
		}
	}
}
