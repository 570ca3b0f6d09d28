package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

// ErrorKind classifies provider failures for retry policy.
type ErrorKind string

// Retryable kinds.
const (
	KindTimeout     ErrorKind = "timeout"
	KindNetwork     ErrorKind = "network"
	KindUnavailable ErrorKind = "unavailable"
	KindRateLimited ErrorKind = "rate_limited"
)

// Fatal kinds.
const (
	KindInvalidSpec           ErrorKind = "invalid_spec"
	KindNotFound              ErrorKind = "not_found"
	KindAuth                  ErrorKind = "auth"
	KindInsufficientResources ErrorKind = "insufficient_resources"
)

// Error wraps a provider failure with its taxonomy kind.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("provider: %s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error is transient. Non-provider errors
// (plain network failures, context deadline) count as retryable.
func Retryable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return err != nil
	}
	switch pe.Kind {
	case KindTimeout, KindNetwork, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// Sandbox is the handle and URL returned by a successful create call.
type Sandbox struct {
	Handle string `json:"handle"`
	URL    string `json:"url"`
}

// ProbeResult is one health probe outcome.
type ProbeResult string

const (
	ProbeHealthy   ProbeResult = "healthy"
	ProbeUnhealthy ProbeResult = "unhealthy"
	ProbeTimeout   ProbeResult = "timeout"
)

// Client is the narrow contract against the external sandbox provider. The
// orchestrator never manages compute itself; it only calls these and keeps
// the bookkeeping.
type Client interface {
	Create(ctx context.Context, spec domain.RuntimeSpec, limits domain.SandboxLimits) (Sandbox, error)
	Destroy(ctx context.Context, handle string) error
	Probe(ctx context.Context, handle, path string) (ProbeResult, error)
}
