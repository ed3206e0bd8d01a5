package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modelforge/certhub/internal/api/response"
	"github.com/modelforge/certhub/internal/certify"
)

// JobStatusProvider defines the interface the job handlers depend on.
type JobStatusProvider interface {
	GetJobStatus(ctx context.Context, jobID string) (*certify.JobStatus, error)
	CancelJob(ctx context.Context, jobID string) (*certify.CancelResult, error)
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/certifications/jobs/{jobID}.
func NewJobStatusHandler(svc JobStatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID is required", nil)
			return
		}

		status, err := svc.GetJobStatus(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, certify.ErrJobNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
					"No job matches the given id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, status)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /api/v1/certifications/jobs/{jobID}.
func NewCancelJobHandler(svc JobStatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID is required", nil)
			return
		}

		result, err := svc.CancelJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, certify.ErrJobNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
					"No job matches the given id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, cancelResponse{
			Cancelled: result.RemovedJobs,
			Skipped:   result.SkippedRecords,
		})
	}
}

type cancelResponse struct {
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}
