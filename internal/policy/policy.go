package policy

import (
	"fmt"

	"github.com/Jackwwg83/coderunner2/internal/domain"
	"github.com/Jackwwg83/coderunner2/pkg/config"
)

// Classification thresholds on project shape. A framework presence or a
// large dependency surface promotes the class.
const (
	complexFileCount       = 20
	complexDependencyCount = 10
	enterpriseFileCount    = 100
	enterpriseDependencies = 40
)

// Table resolves timeout profiles from complexity classes.
type Table struct {
	simple     domain.TimeoutProfile
	complex    domain.TimeoutProfile
	enterprise domain.TimeoutProfile
}

// NewTable builds the lookup table from configuration.
func NewTable(cfg config.OrchestratorConfig) *Table {
	return &Table{
		simple:     fromClass(cfg.Simple),
		complex:    fromClass(cfg.Complex),
		enterprise: fromClass(cfg.Enterprise),
	}
}

func fromClass(c config.ClassTimeouts) domain.TimeoutProfile {
	return domain.TimeoutProfile{
		Initial:     c.Initial,
		Extension:   c.Extension,
		Maximum:     c.Maximum,
		HealthCheck: c.HealthCheck,
		GracePeriod: c.GracePeriod,
	}
}

// Profile returns the timeout profile for a complexity class.
func (t *Table) Profile(class string) (domain.TimeoutProfile, error) {
	switch class {
	case domain.ClassSimple:
		return t.simple, nil
	case domain.ClassComplex:
		return t.complex, nil
	case domain.ClassEnterprise:
		return t.enterprise, nil
	default:
		return domain.TimeoutProfile{}, fmt.Errorf("unknown complexity class %q", class)
	}
}

// Classify buckets a runtime spec by project shape. Invalid shape inputs are
// a policy rejection: no deployment record is created for them.
func Classify(spec domain.RuntimeSpec) (string, error) {
	if spec.FileCount < 0 || spec.DependencyCount < 0 {
		return "", fmt.Errorf("invalid project shape: files=%d deps=%d", spec.FileCount, spec.DependencyCount)
	}
	switch {
	case spec.FileCount >= enterpriseFileCount || spec.DependencyCount >= enterpriseDependencies:
		return domain.ClassEnterprise, nil
	case spec.HasFramework || spec.FileCount >= complexFileCount || spec.DependencyCount >= complexDependencyCount:
		return domain.ClassComplex, nil
	default:
		return domain.ClassSimple, nil
	}
}
