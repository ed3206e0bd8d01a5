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
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
)

// Orchestrator is the synchronous certification path: it invokes the test
// engine directly, bypassing the broker, for low-volume interactive use.
type Orchestrator struct {
	store     store.Store
	validator *Validator
	updater   *StatusUpdater
	engine    engine.Engine
	creds     credentials.Resolver
	freshness time.Duration
	threshold float64
}

func NewOrchestrator(st store.Store, validator *Validator, updater *StatusUpdater, eng engine.Engine, creds credentials.Resolver, freshness time.Duration, passThreshold float64) *Orchestrator {
	return &Orchestrator{
		store:     st,
		validator: validator,
		updater:   updater,
		engine:    eng,
		creds:     creds,
		freshness: freshness,
		threshold: passThreshold,
	}
}

// Result is the outcome of one synchronous certification.
type Result struct {
	Certification *models.Certification `json:"certification"`
	Cached        bool                  `json:"cached,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// CertifyModel certifies one model in the caller's credential region. With
// force false, a fresh terminal record short-circuits the run. The progress
// callback, when non-nil, receives per-probe events in execution order.
func (o *Orchestrator) CertifyModel(ctx context.Context, ref string, userID uuid.UUID, force bool, progress engine.ProgressFunc) (*Result, error) {
	d, err := o.validator.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	creds, err := o.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	region := creds.Region
	if _, err := o.validator.ValidateRegions([]string{region}); err != nil {
		return nil, err
	}

	if !force {
		if cached := o.freshRecord(ctx, d.ID, region); cached != nil {
			return &Result{Certification: cached, Cached: true}, nil
		}
	}

	if _, err := o.updater.OnStart(ctx, d.ID, region); err != nil {
		return nil, err
	}

	outcome, err := o.engine.Certify(ctx, engine.Request{
		DeploymentRef: d.DeploymentRef,
		Region:        region,
		AccessKey:     creds.AccessKey,
		SecretKey:     creds.SecretKey,
	}, progress)
	if err != nil {
		category := engine.Categorize(err)
		rec, werr := o.updater.OnFailure(ctx, d.ID, region, err.Error(), category)
		if werr != nil {
			return nil, werr
		}
		if category == engine.CategoryUnavailable {
			return &Result{Certification: rec}, fmt.Errorf("%w: %s", ErrModelUnavailable, d.DeploymentRef)
		}
		return &Result{Certification: rec}, err
	}

	if !outcome.IsAvailable {
		msg := "deployment not available in region"
		if outcome.CategorizedError != nil {
			msg = outcome.CategorizedError.Message
		}
		rec, werr := o.updater.OnFailure(ctx, d.ID, region, msg, engine.CategoryUnavailable)
		if werr != nil {
			return nil, werr
		}
		return &Result{Certification: rec}, fmt.Errorf("%w: %s", ErrModelUnavailable, d.DeploymentRef)
	}

	interpreted, err := interpretOutcome(outcome, o.threshold)
	if err != nil {
		return nil, err
	}
	userStr := userID.String()
	rec, err := o.updater.OnSuccess(ctx, d.ID, region, SuccessResult{
		Passed:      interpreted.Passed,
		Score:       interpreted.Score,
		Rating:      interpreted.Rating,
		Badge:       interpreted.Badge,
		TestResults: interpreted.TestResults,
		CreatedBy:   &userStr,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Certification: rec, Warnings: interpreted.Warnings}, nil
}

// freshRecord returns a terminal record younger than the freshness window.
func (o *Orchestrator) freshRecord(ctx context.Context, deploymentID uuid.UUID, region string) *models.Certification {
	rec, err := o.store.GetCertification(ctx, deploymentID, region)
	if err != nil {
		return nil
	}
	if !models.TerminalStatus(rec.Status) || rec.CompletedAt == nil {
		return nil
	}
	if time.Since(*rec.CompletedAt) > o.freshness {
		return nil
	}
	return rec
}

// ModelSummary is one entry in a vendor/catalog fan-out.
type ModelSummary struct {
	DeploymentRef string                `json:"deployment_ref"`
	Certification *models.Certification `json:"certification,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// CertifyVendor certifies every active deployment of one provider
// sequentially. A failure on one model is recorded and never aborts the rest.
func (o *Orchestrator) CertifyVendor(ctx context.Context, provider string, userID uuid.UUID, force bool) ([]ModelSummary, error) {
	deployments, err := o.store.ListDeployments(ctx, store.DeploymentFilter{Provider: provider, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	if len(deployments) == 0 {
		return nil, ErrNoDeployments
	}

	summaries := make([]ModelSummary, 0, len(deployments))
	for _, d := range deployments {
		res, err := o.CertifyModel(ctx, d.DeploymentRef, userID, force, nil)
		summary := ModelSummary{DeploymentRef: d.DeploymentRef}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return summaries, err
			}
			summary.Error = err.Error()
			slog.Warn("certification failed in fan-out",
				"deployment_ref", d.DeploymentRef,
				"error", err,
			)
		}
		if res != nil {
			summary.Certification = res.Certification
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// CertifyAll certifies every active deployment across all providers.
func (o *Orchestrator) CertifyAll(ctx context.Context, userID uuid.UUID, force bool) ([]ModelSummary, error) {
	return o.CertifyVendor(ctx, "", userID, force)
}
