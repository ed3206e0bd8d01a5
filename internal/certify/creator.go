package certify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/queue"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
)

// Creator writes pending certification records and enqueues the matching
// broker jobs, one job per (deployment, region) pair. The record is always
// upserted before the job is enqueued so a worker that starts immediately
// never targets a missing row. Enqueue is at-least-once: a crash between
// upsert and enqueue leaves an orphaned pending row for the sweep to heal.
type Creator struct {
	store     store.Store
	broker    queue.Broker
	validator *Validator
}

func NewCreator(st store.Store, broker queue.Broker, validator *Validator) *Creator {
	return &Creator{store: st, broker: broker, validator: validator}
}

// CreateResult identifies a single enqueued certification job.
type CreateResult struct {
	JobID           string    `json:"job_id"`
	BrokerJobID     string    `json:"broker_job_id"`
	CertificationID uuid.UUID `json:"certification_id"`
}

// BatchResult identifies an enqueued batch.
type BatchResult struct {
	JobID     string   `json:"job_id"`
	TotalJobs int      `json:"total_jobs"`
	Invalid   []string `json:"invalid,omitempty"`
}

// EnqueueSingle certifies one model reference in one region asynchronously.
func (c *Creator) EnqueueSingle(ctx context.Context, ref, region, createdBy string) (*CreateResult, error) {
	d, err := c.validator.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	regions, err := c.validator.ValidateRegions([]string{region})
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	cert, err := c.createOne(ctx, d, regions[0], createdBy, jobID, jobID, "")
	if err != nil {
		return nil, err
	}
	return &CreateResult{JobID: jobID, BrokerJobID: jobID, CertificationID: cert.ID}, nil
}

// EnqueueBatch fans out over the Cartesian product of valid models x regions.
// Invalid references are dropped with a warning, never fatal. All jobs share
// one logical batch id; broker-side ids are suffixed with the certification
// id for broker-level uniqueness.
func (c *Creator) EnqueueBatch(ctx context.Context, refs, regions []string, createdBy string) (*BatchResult, error) {
	part, err := c.validator.ValidateMultiple(ctx, refs)
	if err != nil {
		return nil, err
	}
	return c.enqueueDeployments(ctx, part.Valid, part.Invalid, regions, createdBy)
}

// EnqueueAll certifies every active deployment, optionally filtered by vendor.
func (c *Creator) EnqueueAll(ctx context.Context, provider string, regions []string, createdBy string) (*BatchResult, error) {
	deployments, err := c.store.ListDeployments(ctx, store.DeploymentFilter{Provider: provider, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	if len(deployments) == 0 {
		return nil, ErrNoDeployments
	}
	return c.enqueueDeployments(ctx, deployments, nil, regions, createdBy)
}

func (c *Creator) enqueueDeployments(ctx context.Context, deployments []*models.Deployment, invalid, regions []string, createdBy string) (*BatchResult, error) {
	validRegions, err := c.validator.ValidateRegions(regions)
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, ErrModelNotFound
	}

	batchID := uuid.NewString()
	total := 0
	for _, d := range deployments {
		for _, region := range validRegions {
			cert, err := c.createOne(ctx, d, region, createdBy, batchID, "", batchID)
			if err != nil {
				return nil, fmt.Errorf("enqueue %s/%s: %w", d.DeploymentRef, region, err)
			}
			slog.Info("certification job enqueued",
				"batch_id", batchID,
				"deployment_id", d.ID,
				"region", region,
				"certification_id", cert.ID,
			)
			total++
		}
	}
	return &BatchResult{JobID: batchID, TotalJobs: total, Invalid: invalid}, nil
}

// createOne upserts the pending record, enqueues the descriptor, and writes
// the broker job id back onto the row. recordJobID lands in the job_id column
// (the batch id for batch members); brokerJobID is the broker-side identity
// and defaults to `<batchID>-<certificationID>` when empty.
func (c *Creator) createOne(ctx context.Context, d *models.Deployment, region, createdBy, recordJobID, brokerJobID, batchID string) (*models.Certification, error) {
	now := time.Now().UTC()
	cert := &models.Certification{
		ID:           uuid.New(),
		DeploymentID: d.ID,
		Region:       region,
		Status:       models.CertStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if createdBy != "" {
		cert.CreatedBy = &createdBy
	}

	cert, err := c.store.UpsertCertification(ctx, cert)
	if err != nil {
		return nil, err
	}

	if brokerJobID == "" {
		brokerJobID = fmt.Sprintf("%s-%s", batchID, cert.ID)
	}

	desc := models.JobDescriptor{
		CertificationID: cert.ID,
		DeploymentID:    d.ID,
		DeploymentRef:   d.DeploymentRef,
		Region:          region,
		BatchID:         batchID,
		CreatedBy:       createdBy,
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encoding job descriptor: %w", err)
	}

	if _, err := c.broker.Enqueue(ctx, payload, queue.Options{JobID: brokerJobID}); err != nil {
		return nil, fmt.Errorf("enqueuing job: %w", err)
	}

	if err := c.store.SetCertificationJobID(ctx, d.ID, region, recordJobID); err != nil {
		return nil, fmt.Errorf("recording job id: %w", err)
	}
	return cert, nil
}
