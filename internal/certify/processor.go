package certify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/credentials"
	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/pkg/models"
)

// Processor executes one certification job pulled from the broker. It writes
// the running and terminal transitions itself through the status updater; the
// worker's lifecycle hooks write the same row as defense against partial
// failures.
type Processor struct {
	validator *Validator
	updater   *StatusUpdater
	engine    engine.Engine
	creds     credentials.Resolver
	threshold float64
}

func NewProcessor(validator *Validator, updater *StatusUpdater, eng engine.Engine, creds credentials.Resolver, passThreshold float64) *Processor {
	return &Processor{
		validator: validator,
		updater:   updater,
		engine:    eng,
		creds:     creds,
		threshold: passThreshold,
	}
}

// Process runs the full job sequence: resolve, mark running, execute, write
// terminal state. The error return is handed back to the broker so its retry
// policy applies; the terminal write has already happened by then.
func (p *Processor) Process(ctx context.Context, desc models.JobDescriptor) (*models.JobResult, error) {
	d, err := p.resolveDeployment(ctx, desc)
	if err != nil {
		return nil, err
	}

	rec, err := p.updater.OnStart(ctx, d.ID, desc.Region)
	if err != nil {
		return nil, fmt.Errorf("marking running: %w", err)
	}
	startedAt := time.Now().UTC()
	if rec.StartedAt != nil {
		startedAt = *rec.StartedAt
	}

	req := engine.Request{DeploymentRef: d.DeploymentRef, Region: desc.Region}
	if userID, perr := uuid.Parse(desc.CreatedBy); perr == nil {
		creds, cerr := p.creds.Resolve(ctx, userID)
		if cerr != nil {
			if errors.Is(cerr, credentials.ErrNoCredentials) {
				p.writeFailure(ctx, d.ID, desc.Region, cerr.Error(), engine.CategoryCredentials)
				return nil, cerr
			}
			return nil, cerr
		}
		req.AccessKey = creds.AccessKey
		req.SecretKey = creds.SecretKey
	}

	outcome, err := p.engine.Certify(ctx, req, nil)
	if err != nil {
		category := engine.Categorize(err)
		p.writeFailure(ctx, d.ID, desc.Region, err.Error(), category)
		return nil, fmt.Errorf("certifying %s/%s: %w", d.DeploymentRef, desc.Region, err)
	}

	interpreted, err := interpretOutcome(outcome, p.threshold)
	if err != nil {
		p.writeFailure(ctx, d.ID, desc.Region, err.Error(), engine.CategoryUnknown)
		return nil, err
	}

	res := SuccessResult{
		Passed:      interpreted.Passed,
		Score:       interpreted.Score,
		Rating:      interpreted.Rating,
		Badge:       interpreted.Badge,
		TestResults: interpreted.TestResults,
	}
	if desc.CreatedBy != "" {
		res.CreatedBy = &desc.CreatedBy
	}
	rec, err = p.updater.OnSuccess(ctx, d.ID, desc.Region, res)
	if err != nil {
		return nil, fmt.Errorf("writing outcome: %w", err)
	}

	result := &models.JobResult{
		DeploymentID: d.ID,
		Region:       desc.Region,
		Status:       rec.Status,
		Passed:       interpreted.Passed,
		Score:        interpreted.Score,
		DurationMS:   time.Since(startedAt).Milliseconds(),
	}
	if rec.DurationMS != nil {
		result.DurationMS = *rec.DurationMS
	}
	return result, nil
}

// resolveDeployment is tolerant of descriptors carrying either the internal
// id or only the provider-facing ref.
func (p *Processor) resolveDeployment(ctx context.Context, desc models.JobDescriptor) (*models.Deployment, error) {
	if desc.DeploymentID != uuid.Nil {
		if d, err := p.validator.Resolve(ctx, desc.DeploymentID.String()); err == nil {
			return d, nil
		} else if !errors.Is(err, ErrModelNotFound) {
			return nil, err
		}
	}
	if desc.DeploymentRef != "" {
		return p.validator.Resolve(ctx, desc.DeploymentRef)
	}
	return nil, fmt.Errorf("%w: descriptor names no deployment", ErrModelNotFound)
}

// writeFailure persists the terminal error state; failures here are logged
// only because the original error must still reach the broker.
func (p *Processor) writeFailure(ctx context.Context, deploymentID uuid.UUID, region, message, category string) {
	if _, err := p.updater.OnFailure(ctx, deploymentID, region, message, category); err != nil {
		slog.Error("failed to persist certification failure",
			"deployment_id", deploymentID,
			"region", region,
			"error", err,
		)
	}
}
