package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelforge/certhub/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Deployments ---

const deploymentColumns = `id, model_name, provider, deployment_ref, inference_mode, active, created_at, updated_at`

func scanDeployment(row pgx.Row) (*models.Deployment, error) {
	var d models.Deployment
	err := row.Scan(&d.ID, &d.ModelName, &d.Provider, &d.DeploymentRef, &d.InferenceMode,
		&d.Active, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetDeployment(ctx context.Context, id uuid.UUID) (*models.Deployment, error) {
	d, err := scanDeployment(s.pool.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return d, err
}

func (s *PostgresStore) GetDeploymentByRef(ctx context.Context, ref string) (*models.Deployment, error) {
	d, err := scanDeployment(s.pool.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE deployment_ref = $1`, ref))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get deployment by ref: %w", err)
	}
	return d, err
}

func (s *PostgresStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*models.Deployment, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Provider != "" {
		conditions = append(conditions, fmt.Sprintf("provider = $%d", argIdx))
		args = append(args, filter.Provider)
		argIdx++
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active")
	}

	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY provider, model_name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*models.Deployment
	for rows.Next() {
		var d models.Deployment
		if err := rows.Scan(&d.ID, &d.ModelName, &d.Provider, &d.DeploymentRef, &d.InferenceMode,
			&d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, &d)
	}
	return deployments, rows.Err()
}

// --- Certifications ---

const certColumns = `id, deployment_id, region, status, passed, score, rating, badge, test_results,
	 error_message, error_category, job_id, started_at, completed_at, duration_ms, certified_at,
	 created_by, created_at, updated_at`

func scanCertification(row pgx.Row) (*models.Certification, error) {
	var c models.Certification
	err := row.Scan(&c.ID, &c.DeploymentID, &c.Region, &c.Status, &c.Passed, &c.Score, &c.Rating,
		&c.Badge, &c.TestResults, &c.ErrorMessage, &c.ErrorCategory, &c.JobID, &c.StartedAt,
		&c.CompletedAt, &c.DurationMS, &c.CertifiedAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) collectCertifications(rows pgx.Rows) ([]*models.Certification, error) {
	defer rows.Close()
	var certs []*models.Certification
	for rows.Next() {
		var c models.Certification
		if err := rows.Scan(&c.ID, &c.DeploymentID, &c.Region, &c.Status, &c.Passed, &c.Score,
			&c.Rating, &c.Badge, &c.TestResults, &c.ErrorMessage, &c.ErrorCategory, &c.JobID,
			&c.StartedAt, &c.CompletedAt, &c.DurationMS, &c.CertifiedAt, &c.CreatedBy,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan certification: %w", err)
		}
		certs = append(certs, &c)
	}
	return certs, rows.Err()
}

// UpsertCertification writes a certification keyed by (deployment_id, region).
// Re-certification overwrites the existing row in place, never appends; the
// original created_at survives the overwrite.
func (s *PostgresStore) UpsertCertification(ctx context.Context, cert *models.Certification) (*models.Certification, error) {
	result, err := scanCertification(s.pool.QueryRow(ctx,
		`INSERT INTO certifications (id, deployment_id, region, status, passed, score, rating, badge,
		   test_results, error_message, error_category, job_id, started_at, completed_at, duration_ms,
		   certified_at, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (deployment_id, region) DO UPDATE SET
		   status = EXCLUDED.status,
		   passed = EXCLUDED.passed,
		   score = EXCLUDED.score,
		   rating = EXCLUDED.rating,
		   badge = EXCLUDED.badge,
		   test_results = EXCLUDED.test_results,
		   error_message = EXCLUDED.error_message,
		   error_category = EXCLUDED.error_category,
		   job_id = EXCLUDED.job_id,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at,
		   duration_ms = EXCLUDED.duration_ms,
		   certified_at = EXCLUDED.certified_at,
		   created_by = EXCLUDED.created_by,
		   updated_at = NOW()
		 RETURNING `+certColumns,
		cert.ID, cert.DeploymentID, cert.Region, cert.Status, cert.Passed, cert.Score, cert.Rating,
		cert.Badge, cert.TestResults, cert.ErrorMessage, cert.ErrorCategory, cert.JobID,
		cert.StartedAt, cert.CompletedAt, cert.DurationMS, cert.CertifiedAt, cert.CreatedBy,
		cert.CreatedAt, cert.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert certification: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) GetCertification(ctx context.Context, deploymentID uuid.UUID, region string) (*models.Certification, error) {
	c, err := scanCertification(s.pool.QueryRow(ctx,
		`SELECT `+certColumns+` FROM certifications WHERE deployment_id = $1 AND region = $2`,
		deploymentID, region))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get certification: %w", err)
	}
	return c, err
}

func (s *PostgresStore) ListCertificationsByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]*models.Certification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+certColumns+` FROM certifications WHERE deployment_id = $1 ORDER BY region`,
		deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list certifications by deployment: %w", err)
	}
	return s.collectCertifications(rows)
}

func (s *PostgresStore) ListCertificationsByJobID(ctx context.Context, jobID string) ([]*models.Certification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+certColumns+` FROM certifications WHERE job_id = $1 ORDER BY deployment_id, region`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list certifications by job: %w", err)
	}
	return s.collectCertifications(rows)
}

// ListStalePending finds pending rows created before olderThan. The
// reconciliation sweep uses this to detect records whose broker job was lost
// in the window between row upsert and enqueue.
func (s *PostgresStore) ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.Certification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+certColumns+` FROM certifications WHERE status = $1 AND updated_at < $2`,
		models.CertStatusPending, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale pending certifications: %w", err)
	}
	return s.collectCertifications(rows)
}

// MarkSkippedByJobID cancels in-flight certifications for a job. Only pending
// and running rows move to skipped; terminal rows are untouched.
func (s *PostgresStore) MarkSkippedByJobID(ctx context.Context, jobID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE certifications SET status = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE job_id = $1 AND status IN ($3, $4)`,
		jobID, models.CertStatusSkipped, models.CertStatusPending, models.CertStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("mark certifications skipped: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SetCertificationJobID(ctx context.Context, deploymentID uuid.UUID, region, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE certifications SET job_id = $3, updated_at = NOW()
		 WHERE deployment_id = $1 AND region = $2`,
		deploymentID, region, jobID)
	if err != nil {
		return fmt.Errorf("set certification job id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Credentials ---

func (s *PostgresStore) GetCredentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	var c models.Credentials
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, access_key, secret_key, region FROM provider_credentials WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.AccessKey, &c.SecretKey, &c.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &c, nil
}
