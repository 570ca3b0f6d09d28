package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jackwwg83/coderunner2/internal/domain"
	"github.com/Jackwwg83/coderunner2/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.DeploymentRepository = (*Repository)(nil)

const deploymentColumns = `id, owner_id, project_ref, status, complexity_class,
	timeout_initial_ms, timeout_extension_ms, timeout_maximum_ms, health_interval_ms, grace_period_ms,
	provider_handle, public_url, error, created_at, last_activity_at, started_running_at, completed_at, updated_at`

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.pool.Exec(ctx, query,
		d.ID, d.OwnerID, d.ProjectRef, d.Status, d.ComplexityClass,
		d.TimeoutProfile.Initial.Milliseconds(), d.TimeoutProfile.Extension.Milliseconds(),
		d.TimeoutProfile.Maximum.Milliseconds(), d.TimeoutProfile.HealthCheck.Milliseconds(),
		d.TimeoutProfile.GracePeriod.Milliseconds(),
		nullable(d.ProviderHandle), nullable(d.PublicURL), nullable(d.Error),
		d.CreatedAt, d.LastActivityAt, d.StartedRunningAt, d.CompletedAt, d.UpdatedAt)
	return err
}

// UpdateDeploymentStatus applies mutable fields to a deployment record.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments SET
			status = $2,
			provider_handle = COALESCE(NULLIF($3, ''), provider_handle),
			public_url = COALESCE(NULLIF($4, ''), public_url),
			error = COALESCE(NULLIF($5, ''), error),
			started_running_at = COALESCE($6, started_running_at),
			completed_at = COALESCE($7, completed_at),
			last_activity_at = COALESCE($8, last_activity_at),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.DeploymentID, update.Status, update.ProviderHandle, update.PublicURL,
		update.Error, update.StartedAt, update.CompletedAt, update.LastActivityAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches one deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDeploymentsByOwner returns recent deployments for one owner.
func (r *Repository) ListDeploymentsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListActiveDeployments returns every non-terminal deployment.
func (r *Repository) ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status NOT IN ($1, $2) ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, domain.StatusStopped, domain.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// CountActiveByOwner returns non-terminal deployment counts keyed by owner.
// Used to rebuild admission counters after a restart.
func (r *Repository) CountActiveByOwner(ctx context.Context) (map[string]int, error) {
	const query = `SELECT owner_id, COUNT(1) FROM deployments
		WHERE status NOT IN ($1, $2) GROUP BY owner_id`
	rows, err := r.pool.Query(ctx, query, domain.StatusStopped, domain.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var owner string
		var count int
		if err := rows.Scan(&owner, &count); err != nil {
			return nil, err
		}
		counts[owner] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	var initialMS, extensionMS, maximumMS, healthMS, graceMS int64
	var handle, url, errMsg *string
	if err := row.Scan(
		&d.ID, &d.OwnerID, &d.ProjectRef, &d.Status, &d.ComplexityClass,
		&initialMS, &extensionMS, &maximumMS, &healthMS, &graceMS,
		&handle, &url, &errMsg,
		&d.CreatedAt, &d.LastActivityAt, &d.StartedRunningAt, &d.CompletedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.TimeoutProfile = domain.TimeoutProfile{
		Initial:     millis(initialMS),
		Extension:   millis(extensionMS),
		Maximum:     millis(maximumMS),
		HealthCheck: millis(healthMS),
		GracePeriod: millis(graceMS),
	}
	if handle != nil {
		d.ProviderHandle = *handle
	}
	if url != nil {
		d.PublicURL = *url
	}
	if errMsg != nil {
		d.Error = *errMsg
	}
	return &d, nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
