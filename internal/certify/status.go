package certify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelforge/certhub/internal/cache"
	"github.com/modelforge/certhub/internal/queue"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
)

// StatusQuery answers "what is the state of this job" by combining broker
// state with the persisted certification rows, and cancels in-flight jobs.
type StatusQuery struct {
	store     store.Store
	broker    queue.Broker
	cache     cache.Cache
	validator *Validator
}

func NewStatusQuery(st store.Store, broker queue.Broker, c cache.Cache, validator *Validator) *StatusQuery {
	return &StatusQuery{store: st, broker: broker, cache: c, validator: validator}
}

// JobStatus aggregates one job or batch.
type JobStatus struct {
	JobID           string                  `json:"job_id"`
	Status          string                  `json:"status"`
	TotalModels     int                     `json:"total_models"`
	ProcessedModels int                     `json:"processed_models"`
	SuccessCount    int                     `json:"success_count"`
	FailureCount    int                     `json:"failure_count"`
	BrokerState     string                  `json:"broker_state,omitempty"`
	Certifications  []*models.Certification `json:"certifications,omitempty"`
}

// GetJobStatus aggregates the persisted records for a job id (single or
// batch). When no record exists yet, the narrow window between enqueue and
// the first persisted row, it falls back to raw broker state.
func (s *StatusQuery) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	// In-flight single jobs are served from the redis fast path written by the
	// worker. Terminal statuses fall through so pollers get the full record;
	// batch ids are never cached and aggregate from the store below.
	if cached, ok, err := s.cache.GetJobStatus(ctx, jobID); err == nil && ok && !models.TerminalStatus(cached) {
		return &JobStatus{JobID: jobID, Status: cached}, nil
	}

	certs, err := s.store.ListCertificationsByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing certifications: %w", err)
	}

	if len(certs) == 0 {
		state, err := s.broker.State(ctx, jobID)
		if errors.Is(err, queue.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return nil, err
		}
		return &JobStatus{
			JobID:       jobID,
			Status:      statusFromBrokerState(state),
			BrokerState: string(state),
		}, nil
	}

	status := &JobStatus{
		JobID:          jobID,
		TotalModels:    len(certs),
		Certifications: certs,
	}
	for _, c := range certs {
		if !models.TerminalStatus(c.Status) {
			continue
		}
		status.ProcessedModels++
		if c.Status == models.CertStatusPassed {
			status.SuccessCount++
		} else {
			status.FailureCount++
		}
	}

	switch {
	case status.ProcessedModels < status.TotalModels:
		status.Status = models.CertStatusRunning
	case status.FailureCount > 0:
		status.Status = models.CertStatusFailed
	default:
		status.Status = models.CertStatusPassed
	}
	return status, nil
}

// CancelResult reports what a cancellation actually reached.
type CancelResult struct {
	RemovedJobs    int `json:"removed_jobs"`
	SkippedRecords int `json:"skipped_records"`
}

// CancelJob removes queued broker jobs and marks matching pending/running
// records skipped. Cancellation of an already-active job is best-effort: the
// processor may still complete and overwrite the skipped status.
func (s *StatusQuery) CancelJob(ctx context.Context, jobID string) (*CancelResult, error) {
	certs, err := s.store.ListCertificationsByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing certifications: %w", err)
	}

	result := &CancelResult{}

	// Single jobs live on the broker under the job id itself; batch members
	// under `<batchID>-<certificationID>`.
	brokerIDs := []string{jobID}
	for _, c := range certs {
		brokerIDs = append(brokerIDs, fmt.Sprintf("%s-%s", jobID, c.ID))
	}
	for _, id := range brokerIDs {
		removed, err := s.broker.Remove(ctx, id)
		if err != nil {
			slog.Warn("failed to remove broker job", "broker_job_id", id, "error", err)
			continue
		}
		if removed {
			result.RemovedJobs++
		}
		// Drop the cached fast-path status so polls see the skip immediately.
		_ = s.cache.Delete(ctx, cache.JobStatusKey(id))
	}

	skipped, err := s.store.MarkSkippedByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	result.SkippedRecords = skipped

	if len(certs) == 0 && result.RemovedJobs == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return result, nil
}

// GetModelCertifications lists the per-region records for one model reference.
func (s *StatusQuery) GetModelCertifications(ctx context.Context, ref string) ([]*models.Certification, error) {
	d, err := s.validator.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	certs, err := s.store.ListCertificationsByDeployment(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("listing certifications: %w", err)
	}
	return certs, nil
}

// QueueCounts exposes the broker's aggregate counters.
func (s *StatusQuery) QueueCounts(ctx context.Context) (queue.Counts, error) {
	return s.broker.Counts(ctx)
}

func statusFromBrokerState(state queue.State) string {
	switch state {
	case queue.StateWaiting, queue.StateDelayed:
		return models.CertStatusPending
	case queue.StateActive:
		return models.CertStatusRunning
	case queue.StateCompleted:
		return models.CertStatusPassed
	case queue.StateFailed:
		return models.CertStatusError
	}
	return models.CertStatusPending
}
