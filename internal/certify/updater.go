package certify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
)

// StatusUpdater is the single authority for writing certification status
// transitions. Every operation is an idempotent upsert keyed by
// (deployment_id, region): a prior record for the same key is overwritten,
// never duplicated.
type StatusUpdater struct {
	store store.Store
}

func NewStatusUpdater(st store.Store) *StatusUpdater {
	return &StatusUpdater{store: st}
}

// load fetches the current row for the key, or initializes a fresh one.
// Broker job id and creator survive the transition; outcome fields do not.
func (u *StatusUpdater) load(ctx context.Context, deploymentID uuid.UUID, region string) (*models.Certification, error) {
	rec, err := u.store.GetCertification(ctx, deploymentID, region)
	if errors.Is(err, store.ErrNotFound) {
		now := time.Now().UTC()
		return &models.Certification{
			ID:           uuid.New(),
			DeploymentID: deploymentID,
			Region:       region,
			CreatedAt:    now,
			UpdatedAt:    now,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// OnStart marks the record running and stamps startedAt, clearing any outcome
// left over from a prior certification of the same key.
func (u *StatusUpdater) OnStart(ctx context.Context, deploymentID uuid.UUID, region string) (*models.Certification, error) {
	rec, err := u.load(ctx, deploymentID, region)
	if err != nil {
		return nil, fmt.Errorf("on start: %w", err)
	}

	now := time.Now().UTC()
	rec.Status = models.CertStatusRunning
	rec.StartedAt = &now
	rec.Passed = nil
	rec.Score = nil
	rec.Rating = nil
	rec.Badge = nil
	rec.TestResults = nil
	rec.ErrorMessage = nil
	rec.ErrorCategory = nil
	rec.CompletedAt = nil
	rec.DurationMS = nil
	rec.CertifiedAt = nil

	rec, err = u.store.UpsertCertification(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("on start: %w", err)
	}
	return rec, nil
}

// SuccessResult carries the interpreted engine outcome for a terminal write.
type SuccessResult struct {
	Passed      bool
	Score       float64
	Rating      float64
	Badge       string
	TestResults json.RawMessage
	CreatedBy   *string
}

// OnSuccess writes the terminal passed/failed state. certifiedAt is stamped
// only when the run passed.
func (u *StatusUpdater) OnSuccess(ctx context.Context, deploymentID uuid.UUID, region string, res SuccessResult) (*models.Certification, error) {
	rec, err := u.load(ctx, deploymentID, region)
	if err != nil {
		return nil, fmt.Errorf("on success: %w", err)
	}

	now := time.Now().UTC()
	passed := res.Passed
	score := res.Score
	rating := res.Rating
	badge := res.Badge

	rec.Passed = &passed
	rec.Score = &score
	rec.Rating = &rating
	rec.Badge = &badge
	rec.TestResults = res.TestResults
	rec.ErrorMessage = nil
	rec.ErrorCategory = nil
	rec.CompletedAt = &now
	if res.CreatedBy != nil {
		rec.CreatedBy = res.CreatedBy
	}
	if rec.StartedAt != nil {
		d := now.Sub(*rec.StartedAt).Milliseconds()
		rec.DurationMS = &d
	}
	if passed {
		rec.Status = models.CertStatusPassed
		rec.CertifiedAt = &now
	} else {
		rec.Status = models.CertStatusFailed
		rec.CertifiedAt = nil
	}

	rec, err = u.store.UpsertCertification(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("on success: %w", err)
	}
	return rec, nil
}

// OnFailure writes the terminal error state with its category.
func (u *StatusUpdater) OnFailure(ctx context.Context, deploymentID uuid.UUID, region, message, category string) (*models.Certification, error) {
	rec, err := u.load(ctx, deploymentID, region)
	if err != nil {
		return nil, fmt.Errorf("on failure: %w", err)
	}

	now := time.Now().UTC()
	passed := false
	rec.Status = models.CertStatusError
	rec.Passed = &passed
	rec.ErrorMessage = &message
	rec.ErrorCategory = &category
	rec.CompletedAt = &now
	rec.CertifiedAt = nil
	if rec.StartedAt != nil {
		d := now.Sub(*rec.StartedAt).Milliseconds()
		rec.DurationMS = &d
	}

	rec, err = u.store.UpsertCertification(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("on failure: %w", err)
	}
	return rec, nil
}
