package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetDeployment(ctx context.Context, id uuid.UUID) (*models.Deployment, error)
	GetDeploymentByRef(ctx context.Context, ref string) (*models.Deployment, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*models.Deployment, error)

	UpsertCertification(ctx context.Context, cert *models.Certification) (*models.Certification, error)
	GetCertification(ctx context.Context, deploymentID uuid.UUID, region string) (*models.Certification, error)
	ListCertificationsByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]*models.Certification, error)
	ListCertificationsByJobID(ctx context.Context, jobID string) ([]*models.Certification, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.Certification, error)
	MarkSkippedByJobID(ctx context.Context, jobID string) (int, error)
	SetCertificationJobID(ctx context.Context, deploymentID uuid.UUID, region, jobID string) error

	GetCredentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error)
}

type DeploymentFilter struct {
	Provider   string
	ActiveOnly bool
}
