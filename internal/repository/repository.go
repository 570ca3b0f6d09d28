package repository

import (
	"context"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

// DeploymentRepository stores deployment records. The orchestrator is the
// only writer; the sweeper and status queries read through it.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeploymentsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Deployment, error)
	ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error)
	CountActiveByOwner(ctx context.Context) (map[string]int, error)
}
