package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelforge/certhub/internal/api/response"
	"github.com/modelforge/certhub/internal/certify"
)

// Enqueuer defines the interface the enqueue handlers depend on.
type Enqueuer interface {
	EnqueueSingle(ctx context.Context, ref, region, createdBy string) (*certify.CreateResult, error)
	EnqueueBatch(ctx context.Context, refs, regions []string, createdBy string) (*certify.BatchResult, error)
	EnqueueAll(ctx context.Context, provider string, regions []string, createdBy string) (*certify.BatchResult, error)
}

// NewCertifyHandler returns an http.HandlerFunc for POST /api/v1/certifications.
func NewCertifyHandler(svc Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model     string `json:"model"`
			Region    string `json:"region"`
			CreatedBy string `json:"created_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Model == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "model is required", nil)
			return
		}
		if req.Region == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "region is required", nil)
			return
		}

		result, err := svc.EnqueueSingle(r.Context(), req.Model, req.Region, req.CreatedBy)
		if err != nil {
			writeEnqueueError(w, err)
			return
		}
		response.Created(w, result)
	}
}

// NewCertifyBatchHandler returns an http.HandlerFunc for POST /api/v1/certifications/batch.
func NewCertifyBatchHandler(svc Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Models    []string `json:"models"`
			Regions   []string `json:"regions"`
			CreatedBy string   `json:"created_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.Models) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "models is required", nil)
			return
		}

		result, err := svc.EnqueueBatch(r.Context(), req.Models, req.Regions, req.CreatedBy)
		if err != nil {
			writeEnqueueError(w, err)
			return
		}
		response.Created(w, result)
	}
}

// NewCertifyAllHandler returns an http.HandlerFunc for POST /api/v1/certifications/all.
func NewCertifyAllHandler(svc Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Provider  string   `json:"provider"`
			Regions   []string `json:"regions"`
			CreatedBy string   `json:"created_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		result, err := svc.EnqueueAll(r.Context(), req.Provider, req.Regions, req.CreatedBy)
		if err != nil {
			writeEnqueueError(w, err)
			return
		}
		response.Created(w, result)
	}
}

func writeEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, certify.ErrModelNotFound):
		response.Error(w, http.StatusNotFound, "MODEL_NOT_FOUND",
			"No deployment matches the given model reference", nil)
	case errors.Is(err, certify.ErrInvalidRegion):
		response.Error(w, http.StatusBadRequest, "INVALID_REGION",
			"One or more regions are not supported", nil)
	case errors.Is(err, certify.ErrNoDeployments):
		response.Error(w, http.StatusNotFound, "NO_DEPLOYMENTS",
			"No active deployments match the request", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
