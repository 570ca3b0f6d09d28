package domain

import "time"

// Deployment status values. FAILED and STOPPED are terminal.
const (
	StatusPending      = "pending"
	StatusProvisioning = "provisioning"
	StatusRunning      = "running"
	StatusDegraded     = "degraded"
	StatusStopping     = "stopping"
	StatusStopped      = "stopped"
	StatusFailed       = "failed"
)

// Complexity classes driving timeout generosity.
const (
	ClassSimple     = "simple"
	ClassComplex    = "complex"
	ClassEnterprise = "enterprise"
)

// Circuit breaker states gating health probes.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// TimeoutProfile is the runtime budget resolved once from the complexity
// class. Extensions append runtime; the profile itself never changes.
type TimeoutProfile struct {
	Initial     time.Duration
	Extension   time.Duration
	Maximum     time.Duration
	HealthCheck time.Duration
	GracePeriod time.Duration
}

// HealthState tracks per-deployment probe outcomes and breaker position.
type HealthState struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CircuitState        string     `json:"circuit_state"`
	CircuitOpenedAt     *time.Time `json:"circuit_opened_at,omitempty"`
}

// RetryState tracks provider-call retry bookkeeping.
type RetryState struct {
	Attempts      int
	NextBackoffMS int
}

// Deployment captures a single sandbox deployment lifecycle.
type Deployment struct {
	ID               string
	OwnerID          string
	ProjectRef       string
	Status           string
	ComplexityClass  string
	TimeoutProfile   TimeoutProfile
	ProviderHandle   string
	PublicURL        string
	Error            string
	CreatedAt        time.Time
	LastActivityAt   time.Time
	StartedRunningAt *time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
	HealthState      HealthState
	RetryState       RetryState
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusStopped || status == StatusFailed
}

// DeploymentStatusUpdate captures mutable fields for a deployment record.
type DeploymentStatusUpdate struct {
	DeploymentID   string
	Status         string
	ProviderHandle string
	PublicURL      string
	Error          string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastActivityAt *time.Time
}

// DeploymentView is the read model returned by status queries.
type DeploymentView struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"owner_id"`
	ProjectRef      string      `json:"project_ref"`
	Status          string      `json:"status"`
	ComplexityClass string      `json:"complexity_class"`
	PublicURL       string      `json:"url,omitempty"`
	Error           string      `json:"error,omitempty"`
	HealthState     HealthState `json:"health_state"`
	CreatedAt       time.Time   `json:"created_at"`
	ElapsedRuntime  int64       `json:"elapsed_runtime_ms"`
	DeadlineAt      *time.Time  `json:"deadline_at,omitempty"`
}
