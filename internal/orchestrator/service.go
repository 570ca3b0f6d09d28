package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/Jackwwg83/coderunner2/internal/domain"
	"github.com/Jackwwg83/coderunner2/internal/health"
	"github.com/Jackwwg83/coderunner2/internal/limiter"
	"github.com/Jackwwg83/coderunner2/internal/policy"
	"github.com/Jackwwg83/coderunner2/internal/provider"
	"github.com/Jackwwg83/coderunner2/internal/repository"
	"github.com/Jackwwg83/coderunner2/internal/stream"
	"github.com/Jackwwg83/coderunner2/pkg/config"
)

// ErrNotFound indicates the deployment is unknown to the orchestrator.
var ErrNotFound = repository.ErrNotFound

// errStopRequested aborts a provisioning retry loop when the user stopped
// the deployment mid-flight.
var errStopRequested = errors.New("stop requested")

// Stop reasons recorded on forced teardowns.
const (
	ReasonUserStop = "user_stop"
	ReasonTimeout  = "runtime_budget_exhausted"
	ReasonIdle     = "idle_timeout"
	ReasonMaxAge   = "max_sandbox_age"
	ReasonRestart  = "restart"
)

// Service owns the deployment lifecycle state machine. All transitions for
// one deployment are serialized on its registry record; cross-deployment
// work (admission, sweeps) touches the registry under its own lock and hands
// off to the per-deployment owner.
type Service struct {
	repo      repository.DeploymentRepository
	provider  provider.Client
	limiter   *limiter.Limiter
	policies  *policy.Table
	monitor   *health.Monitor
	hub       *stream.Hub
	registry  *Registry
	scheduler *deadlineScheduler
	logger    *slog.Logger
	cfg       config.OrchestratorConfig
	now       func() time.Time

	baseCtx context.Context

	observerMu sync.Mutex
	onOutcome  func(status string)
}

// New wires the orchestrator with its collaborators. The health monitor is
// constructed here because the service is its verdict sink.
func New(repo repository.DeploymentRepository, providerClient provider.Client, lim *limiter.Limiter, policies *policy.Table, hub *stream.Hub, logger *slog.Logger, cfg config.OrchestratorConfig) *Service {
	base := logger
	if logger != nil {
		logger = logger.With("component", "orchestrator")
	}
	s := &Service{
		repo:     repo,
		provider: providerClient,
		limiter:  lim,
		policies: policies,
		hub:      hub,
		registry: NewRegistry(),
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	s.scheduler = newDeadlineScheduler(s.onDeadline)
	s.monitor = health.NewMonitor(providerClient, cfg.HealthProbePaths, cfg.FailureThreshold, cfg.CircuitCooldown, s, base)
	return s
}

// Registry exposes the active-deployment registry (read-side consumers).
func (s *Service) Registry() *Registry { return s.registry }

// SetOutcomeObserver installs a callback invoked with the terminal status of
// every finalized deployment.
func (s *Service) SetOutcomeObserver(fn func(status string)) {
	s.observerMu.Lock()
	s.onOutcome = fn
	s.observerMu.Unlock()
}

// Start rebuilds admission counters and in-memory state from the store, then
// launches the deadline scheduler. It must be called before serving requests.
func (s *Service) Start(ctx context.Context) error {
	s.baseCtx = ctx

	counts, err := s.repo.CountActiveByOwner(ctx)
	if err != nil {
		return fmt.Errorf("rebuild limiter counters: %w", err)
	}
	s.limiter.Rebuild(counts)

	active, err := s.repo.ListActiveDeployments(ctx)
	if err != nil {
		return fmt.Errorf("load active deployments: %w", err)
	}
	for i := range active {
		s.adopt(active[i])
	}
	s.logger.Info("orchestrator started", "active_deployments", len(active))

	go s.scheduler.Run(ctx)
	return nil
}

// adopt restores one persisted deployment into the live registry after a
// restart. Deployments stuck in PROVISIONING have no resumable owner; the
// cleanup sweeper fails them once the orphan timeout passes.
func (s *Service) adopt(d domain.Deployment) {
	rec := &record{d: d}
	s.registry.put(rec)

	switch d.Status {
	case domain.StatusRunning, domain.StatusDegraded:
		if d.StartedRunningAt != nil {
			rec.deadline = d.StartedRunningAt.Add(d.TimeoutProfile.Initial)
			s.scheduler.Set(d.ID, rec.deadline)
		}
		s.monitor.Watch(s.baseCtx, d.ID, d.ProviderHandle, d.TimeoutProfile)
	case domain.StatusStopping:
		go s.teardown(d.ID, d.ProviderHandle, d.TimeoutProfile.GracePeriod)
	}
}

// RequestDeploy admits, records, and asynchronously provisions a deployment.
// Policy rejections (quota, invalid shape, oversized timeout override) are
// returned synchronously and create no record.
func (s *Service) RequestDeploy(ctx context.Context, ownerID string, spec domain.RuntimeSpec, timeoutOverride time.Duration) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", errors.New("owner id required")
	}
	if strings.TrimSpace(spec.EntryCommand) == "" {
		return "", errors.New("runtime spec entry command required")
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		return "", fmt.Errorf("runtime spec port %d out of range", spec.Port)
	}
	class, err := policy.Classify(spec)
	if err != nil {
		return "", err
	}
	profile, err := s.policies.Profile(class)
	if err != nil {
		return "", err
	}
	if timeoutOverride > 0 {
		if timeoutOverride > profile.Maximum {
			return "", fmt.Errorf("timeout override %s exceeds class maximum %s", timeoutOverride, profile.Maximum)
		}
		profile.Initial = timeoutOverride
	}

	if err := s.limiter.Admit(ownerID); err != nil {
		return "", err
	}

	now := s.now().UTC()
	d := domain.Deployment{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		ProjectRef:      spec.ProjectRef,
		Status:          domain.StatusPending,
		ComplexityClass: class,
		TimeoutProfile:  profile,
		CreatedAt:       now,
		LastActivityAt:  now,
		UpdatedAt:       now,
		HealthState:     domain.HealthState{CircuitState: domain.CircuitClosed},
	}
	rec := &record{d: d, spec: spec}
	s.registry.put(rec)

	if err := s.repo.CreateDeployment(ctx, &d); err != nil {
		s.registry.remove(d.ID)
		s.limiter.Release(ownerID)
		return "", fmt.Errorf("persist deployment: %w", err)
	}

	s.publishStatus(d)
	s.logger.Info("deployment admitted", "deployment_id", d.ID, "owner_id", ownerID, "class", class)

	go s.provision(d.ID)
	return d.ID, nil
}

// RequestStop moves an active deployment toward STOPPED. Stopping a
// provisioning deployment defers until the in-flight provider call resolves,
// preserving the single-call-per-deployment invariant.
func (s *Service) RequestStop(id string) error {
	rec, ok := s.registry.get(id)
	if !ok {
		return s.stopMissing(id)
	}

	rec.mu.Lock()
	switch rec.d.Status {
	case domain.StatusPending, domain.StatusProvisioning:
		rec.stopRequested = true
		rec.stopReason = ReasonUserStop
		rec.mu.Unlock()
		return nil
	case domain.StatusRunning, domain.StatusDegraded:
		rec.mu.Unlock()
		s.beginStop(rec, ReasonUserStop)
		return nil
	default:
		rec.mu.Unlock()
		return nil
	}
}

// Restart stops the active deployment and provisions a replacement with the
// same owner and runtime spec, returning the new deployment ID. The
// replacement is admitted like any other request, so it can be quota
// rejected while the old sandbox is still tearing down.
func (s *Service) Restart(ctx context.Context, id string) (string, error) {
	rec, ok := s.registry.get(id)
	if !ok {
		return "", ErrNotFound
	}
	d, _ := rec.snapshot()
	if domain.Terminal(d.Status) {
		return "", ErrNotFound
	}
	spec := rec.spec
	if strings.TrimSpace(spec.EntryCommand) == "" {
		return "", errors.New("runtime spec unavailable for restart")
	}
	if err := s.RequestStop(id); err != nil {
		return "", err
	}
	return s.RequestDeploy(ctx, d.OwnerID, spec, 0)
}

// GetStatus returns the read model for one deployment, falling back to the
// persistence store for terminal records evicted from the registry.
func (s *Service) GetStatus(ctx context.Context, id string) (*domain.DeploymentView, error) {
	if rec, ok := s.registry.get(id); ok {
		d, deadline := rec.snapshot()
		view := s.view(d)
		if !deadline.IsZero() {
			dl := deadline
			view.DeadlineAt = &dl
		}
		return &view, nil
	}
	d, err := s.repo.GetDeploymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.view(*d)
	return &view, nil
}

// List returns recent deployments for an owner.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]domain.DeploymentView, error) {
	deployments, err := s.repo.ListDeploymentsByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]domain.DeploymentView, 0, len(deployments))
	for _, d := range deployments {
		views = append(views, s.view(d))
	}
	return views, nil
}

// IngestLog publishes a sandbox log line to subscribers and refreshes the
// deployment's activity clock.
func (s *Service) IngestLog(ctx context.Context, deploymentID, level, message string, metadata json.RawMessage) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("message is required")
	}
	if err := s.ensureKnown(ctx, deploymentID); err != nil {
		return err
	}
	s.touchActivity(deploymentID)
	payload := map[string]any{"message": message}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	s.hub.Publish(deploymentID, domain.EventLog, normalizeLevel(level), payload)
	return nil
}

// IngestMetric publishes a sandbox metric sample to subscribers.
func (s *Service) IngestMetric(ctx context.Context, deploymentID string, sample json.RawMessage) error {
	if len(sample) == 0 {
		return errors.New("metric sample is required")
	}
	if err := s.ensureKnown(ctx, deploymentID); err != nil {
		return err
	}
	s.touchActivity(deploymentID)
	s.hub.Publish(deploymentID, domain.EventMetric, "", sample)
	return nil
}

// ActiveDeployments snapshots every non-terminal deployment for the sweeper.
func (s *Service) ActiveDeployments() []domain.Deployment {
	records := s.registry.all()
	out := make([]domain.Deployment, 0, len(records))
	for _, rec := range records {
		d, _ := rec.snapshot()
		if !domain.Terminal(d.Status) {
			out = append(out, d)
		}
	}
	return out
}

// ForceStop is the sweeper's teardown hook for idle/age violations.
func (s *Service) ForceStop(id, reason string) {
	rec, ok := s.registry.get(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	switch rec.d.Status {
	case domain.StatusPending, domain.StatusProvisioning:
		rec.stopRequested = true
		rec.stopReason = reason
		rec.mu.Unlock()
	case domain.StatusRunning, domain.StatusDegraded:
		rec.mu.Unlock()
		s.beginStop(rec, reason)
	default:
		rec.mu.Unlock()
	}
}

// ForceFail marks a stuck deployment FAILED (orphaned provisioning).
func (s *Service) ForceFail(id, reason string) {
	s.finalize(id, domain.StatusFailed, reason)
}

// provision is the owner task driving PENDING → PROVISIONING → RUNNING. The
// provider create call is retried with exponential backoff for transient
// errors; fatal error kinds short-circuit straight to FAILED.
func (s *Service) provision(id string) {
	rec, ok := s.registry.get(id)
	if !ok {
		return
	}
	d, applied := s.transition(rec, []string{domain.StatusPending}, func(r *record) {
		r.d.Status = domain.StatusProvisioning
	})
	if !applied {
		return
	}
	s.publishStatus(d)

	limits := domain.SandboxLimits{
		MemoryMB:   s.cfg.SandboxMemoryMB,
		DiskMB:     s.cfg.SandboxDiskMB,
		CPUPercent: s.cfg.SandboxCPUPercent,
	}

	var sandbox provider.Sandbox
	backoff := retry.NewExponential(s.cfg.RetryBaseBackoff)
	backoff = retry.WithCappedDuration(s.cfg.RetryMaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(s.cfg.MaxRetries-1), backoff)

	err := retry.Do(s.baseCtx, backoff, func(ctx context.Context) error {
		rec.mu.Lock()
		if domain.Terminal(rec.d.Status) {
			rec.mu.Unlock()
			return errStopRequested
		}
		if rec.stopRequested {
			rec.mu.Unlock()
			return errStopRequested
		}
		rec.d.RetryState.Attempts++
		attempt := rec.d.RetryState.Attempts
		spec := rec.spec
		rec.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		created, err := s.provider.Create(callCtx, spec, limits)
		cancel()
		if err != nil {
			if provider.Retryable(err) {
				s.logger.Warn("provisioning attempt failed", "deployment_id", id, "attempt", attempt, "error", err)
				s.publishLog(id, "warn", fmt.Sprintf("provisioning attempt %d failed: %v", attempt, err))
				return retry.RetryableError(err)
			}
			return err
		}
		sandbox = created
		return nil
	})

	if errors.Is(err, errStopRequested) {
		s.finalize(id, domain.StatusStopped, stopReason(rec))
		return
	}
	if err != nil {
		s.logger.Error("provisioning failed", "deployment_id", id, "error", err)
		s.finalize(id, domain.StatusFailed, err.Error())
		return
	}

	now := s.now().UTC()
	var deadline time.Time
	d, applied = s.transition(rec, []string{domain.StatusProvisioning}, func(r *record) {
		r.d.Status = domain.StatusRunning
		r.d.ProviderHandle = sandbox.Handle
		r.d.PublicURL = sandbox.URL
		r.d.StartedRunningAt = &now
		r.d.LastActivityAt = now
		r.deadline = now.Add(r.d.TimeoutProfile.Initial)
		deadline = r.deadline
	})
	if !applied {
		// A sweeper or stop won the race; release the fresh sandbox.
		current, _ := rec.snapshot()
		go s.destroySandbox(sandbox.Handle, current.TimeoutProfile.GracePeriod)
		return
	}
	s.publishStatus(d)
	s.scheduler.Set(id, deadline)
	s.monitor.Watch(s.baseCtx, id, sandbox.Handle, d.TimeoutProfile)
	s.logger.Info("deployment running", "deployment_id", id, "url", sandbox.URL, "attempts", d.RetryState.Attempts)

	rec.mu.Lock()
	stopPending := rec.stopRequested
	rec.mu.Unlock()
	if stopPending {
		s.beginStop(rec, stopReason(rec))
	}
}

// beginStop applies RUNNING|DEGRADED → STOPPING and launches the teardown.
func (s *Service) beginStop(rec *record, reason string) {
	d, applied := s.transition(rec, []string{domain.StatusRunning, domain.StatusDegraded}, func(r *record) {
		r.d.Status = domain.StatusStopping
		r.stopReason = reason
	})
	if !applied {
		return
	}
	s.scheduler.Cancel(d.ID)
	s.monitor.Unwatch(d.ID)
	s.publishStatus(d)
	s.logger.Info("deployment stopping", "deployment_id", d.ID, "reason", reason)
	go s.teardown(d.ID, d.ProviderHandle, d.TimeoutProfile.GracePeriod)
}

// teardown destroys the sandbox and finalizes STOPPED. The grace period
// bounds the provider call; once it elapses the stop is forced regardless.
func (s *Service) teardown(id, handle string, grace time.Duration) {
	s.destroySandbox(handle, grace)
	rec, ok := s.registry.get(id)
	reason := ""
	if ok {
		reason = stopReason(rec)
	}
	s.finalize(id, domain.StatusStopped, reason)
}

func (s *Service) destroySandbox(handle string, grace time.Duration) {
	if handle == "" {
		return
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.provider.Destroy(ctx, handle); err != nil {
		s.logger.Warn("sandbox destroy failed, forcing stop", "handle", handle, "error", err)
	}
}

// finalize applies the terminal transition exactly once: persists, emits the
// final status event, releases the admission token, and cancels all timers
// and monitors for the deployment.
func (s *Service) finalize(id, terminalStatus, errMsg string) {
	rec, ok := s.registry.get(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	if domain.Terminal(rec.d.Status) {
		rec.mu.Unlock()
		return
	}
	now := s.now().UTC()
	rec.d.Status = terminalStatus
	if errMsg != "" && terminalStatus == domain.StatusFailed {
		rec.d.Error = errMsg
	}
	rec.d.CompletedAt = &now
	rec.d.UpdatedAt = now
	d := rec.d
	rec.mu.Unlock()

	s.scheduler.Cancel(id)
	s.monitor.Unwatch(id)
	s.persist(d)
	s.publishStatus(d)
	s.hub.Retire(id)
	s.limiter.Release(d.OwnerID)
	s.registry.remove(id)
	s.observerMu.Lock()
	observe := s.onOutcome
	s.observerMu.Unlock()
	if observe != nil {
		observe(terminalStatus)
	}
	s.logger.Info("deployment finalized", "deployment_id", id, "status", terminalStatus, "error", errMsg)
}

// onDeadline evaluates the extension rule when a deployment's effective
// deadline fires. An extension is granted only late in the initial budget,
// only while the circuit is closed, and never past the profile maximum.
func (s *Service) onDeadline(id string) {
	rec, ok := s.registry.get(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	d := rec.d
	deadline := rec.deadline
	rec.mu.Unlock()

	if domain.Terminal(d.Status) || d.StartedRunningAt == nil {
		return
	}
	if d.Status != domain.StatusRunning && d.Status != domain.StatusDegraded {
		return
	}

	now := s.now()
	started := *d.StartedRunningAt
	elapsed := now.Sub(started)
	profile := d.TimeoutProfile
	hardCeiling := started.Add(profile.Maximum)

	grant := elapsed > time.Duration(float64(profile.Initial)*0.8) &&
		profile.Initial-elapsed < profile.Extension &&
		d.HealthState.CircuitState == domain.CircuitClosed

	if grant {
		next := deadline.Add(profile.Extension)
		if next.After(hardCeiling) {
			next = hardCeiling
		}
		if next.After(deadline) && now.Before(hardCeiling) {
			rec.mu.Lock()
			rec.deadline = next
			rec.mu.Unlock()
			s.scheduler.Set(id, next)
			s.publishLog(id, "info", fmt.Sprintf("runtime extended by %s", profile.Extension))
			s.logger.Info("deployment runtime extended", "deployment_id", id, "deadline", next)
			return
		}
	}
	s.beginStop(rec, ReasonTimeout)
}

// HealthDegraded implements health.Sink: the circuit opened.
func (s *Service) HealthDegraded(id string, state domain.HealthState) {
	rec, ok := s.registry.get(id)
	if !ok {
		return
	}
	d, applied := s.transition(rec, []string{domain.StatusRunning}, func(r *record) {
		r.d.Status = domain.StatusDegraded
		r.d.HealthState = state
	})
	if !applied {
		return
	}
	s.publishStatus(d)
	s.logger.Warn("deployment degraded", "deployment_id", id, "consecutive_failures", state.ConsecutiveFailures)
}

// HealthRecovered implements health.Sink: a half-open probe succeeded.
func (s *Service) HealthRecovered(id string, state domain.HealthState) {
	rec, ok := s.registry.get(id)
	if !ok {
		return
	}
	d, applied := s.transition(rec, []string{domain.StatusDegraded}, func(r *record) {
		r.d.Status = domain.StatusRunning
		r.d.HealthState = state
	})
	if !applied {
		return
	}
	s.publishStatus(d)
	s.logger.Info("deployment recovered", "deployment_id", id)
}

// ProbeObserved implements health.Sink: record breaker state and publish a
// metric sample for every probe.
func (s *Service) ProbeObserved(id string, result provider.ProbeResult, latency time.Duration, state domain.HealthState) {
	if rec, ok := s.registry.get(id); ok {
		rec.mu.Lock()
		if !domain.Terminal(rec.d.Status) {
			rec.d.HealthState = state
		}
		rec.mu.Unlock()
	}
	s.hub.Publish(id, domain.EventMetric, "", map[string]any{
		"probe":                string(result),
		"latency_ms":           latency.Milliseconds(),
		"circuit":              state.CircuitState,
		"consecutive_failures": state.ConsecutiveFailures,
	})
}

// transition applies a mutation iff the current status is in from. The
// mutated copy is persisted and returned; the record lock is never held over
// I/O.
func (s *Service) transition(rec *record, from []string, mutate func(*record)) (domain.Deployment, bool) {
	rec.mu.Lock()
	allowed := false
	for _, status := range from {
		if rec.d.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		rec.mu.Unlock()
		return domain.Deployment{}, false
	}
	mutate(rec)
	rec.d.UpdatedAt = s.now().UTC()
	d := rec.d
	rec.mu.Unlock()

	s.persist(d)
	return d, true
}

func (s *Service) persist(d domain.Deployment) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	update := domain.DeploymentStatusUpdate{
		DeploymentID:   d.ID,
		Status:         d.Status,
		ProviderHandle: d.ProviderHandle,
		PublicURL:      d.PublicURL,
		Error:          d.Error,
		StartedAt:      d.StartedRunningAt,
		CompletedAt:    d.CompletedAt,
		LastActivityAt: &d.LastActivityAt,
	}
	if err := s.repo.UpdateDeploymentStatus(ctx, update); err != nil {
		s.logger.Warn("deployment status persist failed", "deployment_id", d.ID, "status", d.Status, "error", err)
	}
}

func (s *Service) touchActivity(id string) {
	rec, ok := s.registry.get(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	if domain.Terminal(rec.d.Status) {
		rec.mu.Unlock()
		return
	}
	rec.d.LastActivityAt = s.now().UTC()
	d := rec.d
	rec.mu.Unlock()
	s.persist(d)
}

func (s *Service) ensureKnown(ctx context.Context, id string) error {
	if _, ok := s.registry.get(id); ok {
		return nil
	}
	_, err := s.repo.GetDeploymentByID(ctx, id)
	return err
}

func (s *Service) stopMissing(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := s.repo.GetDeploymentByID(ctx, id)
	if err != nil {
		return err
	}
	if domain.Terminal(d.Status) {
		return nil
	}
	return ErrNotFound
}

func (s *Service) view(d domain.Deployment) domain.DeploymentView {
	view := domain.DeploymentView{
		ID:              d.ID,
		OwnerID:         d.OwnerID,
		ProjectRef:      d.ProjectRef,
		Status:          d.Status,
		ComplexityClass: d.ComplexityClass,
		PublicURL:       d.PublicURL,
		Error:           d.Error,
		HealthState:     d.HealthState,
		CreatedAt:       d.CreatedAt,
	}
	if d.StartedRunningAt != nil {
		end := s.now()
		if d.CompletedAt != nil {
			end = *d.CompletedAt
		}
		view.ElapsedRuntime = end.Sub(*d.StartedRunningAt).Milliseconds()
	}
	return view
}

func (s *Service) publishStatus(d domain.Deployment) {
	payload := map[string]any{
		"deployment_id": d.ID,
		"status":        d.Status,
	}
	if d.PublicURL != "" {
		payload["url"] = d.PublicURL
	}
	if d.Error != "" {
		payload["error"] = d.Error
	}
	s.hub.Publish(d.ID, domain.EventStatus, "", payload)
}

func (s *Service) publishLog(id, level, message string) {
	s.hub.Publish(id, domain.EventLog, level, map[string]any{"message": message})
}

func stopReason(rec *record) string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stopReason != "" {
		return rec.stopReason
	}
	return ReasonUserStop
}

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error", "fatal":
		return "error"
	case "warn", "warning":
		return "warn"
	case "debug":
		return "debug"
	default:
		return "info"
	}
}
