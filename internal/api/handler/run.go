package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/api/response"
	"github.com/modelforge/certhub/internal/certify"
	"github.com/modelforge/certhub/internal/credentials"
	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/pkg/models"
)

// ModelCertifier defines the synchronous certification interface the run and
// stream handlers depend on.
type ModelCertifier interface {
	CertifyModel(ctx context.Context, ref string, userID uuid.UUID, force bool, progress engine.ProgressFunc) (*certify.Result, error)
	CertifyVendor(ctx context.Context, provider string, userID uuid.UUID, force bool) ([]certify.ModelSummary, error)
	CertifyAll(ctx context.Context, userID uuid.UUID, force bool) ([]certify.ModelSummary, error)
}

// CertificationLister defines the record lookup interface.
type CertificationLister interface {
	GetModelCertifications(ctx context.Context, ref string) ([]*models.Certification, error)
}

// NewRunHandler returns an http.HandlerFunc for POST /api/v1/certifications/{ref}/run.
func NewRunHandler(svc ModelCertifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		if ref == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "model reference is required", nil)
			return
		}

		var req struct {
			UserID string `json:"user_id"`
			Force  bool   `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}

		result, err := svc.CertifyModel(r.Context(), ref, userID, req.Force, nil)
		if err != nil {
			writeCertifyError(w, result, err)
			return
		}
		response.JSON(w, result)
	}
}

// NewVendorRunHandler returns an http.HandlerFunc for POST /api/v1/certifications/vendors/{provider}/run.
// An empty provider certifies every active deployment.
func NewVendorRunHandler(svc ModelCertifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")

		var req struct {
			UserID string `json:"user_id"`
			Force  bool   `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}

		summaries, err := svc.CertifyVendor(r.Context(), provider, userID, req.Force)
		if err != nil {
			if errors.Is(err, certify.ErrNoDeployments) {
				response.Error(w, http.StatusNotFound, "NO_DEPLOYMENTS",
					"No active deployments match the request", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, summaries)
	}
}

// NewModelCertificationsHandler returns an http.HandlerFunc for GET /api/v1/certifications/{ref}.
func NewModelCertificationsHandler(svc CertificationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		if ref == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "model reference is required", nil)
			return
		}

		certs, err := svc.GetModelCertifications(r.Context(), ref)
		if err != nil {
			if errors.Is(err, certify.ErrModelNotFound) {
				response.Error(w, http.StatusNotFound, "MODEL_NOT_FOUND",
					"No deployment matches the given model reference", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, certs)
	}
}

// writeCertifyError maps synchronous certification failures. An unavailable
// model still carries the persisted record in the error details.
func writeCertifyError(w http.ResponseWriter, result *certify.Result, err error) {
	var details any
	if result != nil && result.Certification != nil {
		details = result.Certification
	}
	switch {
	case errors.Is(err, certify.ErrModelNotFound):
		response.Error(w, http.StatusNotFound, "MODEL_NOT_FOUND",
			"No deployment matches the given model reference", nil)
	case errors.Is(err, certify.ErrInvalidRegion):
		response.Error(w, http.StatusBadRequest, "INVALID_REGION",
			"The credential region is not supported", nil)
	case errors.Is(err, credentials.ErrNoCredentials):
		response.Error(w, http.StatusBadRequest, "NO_CREDENTIALS",
			"No provider credentials are configured for this user", nil)
	case errors.Is(err, certify.ErrModelUnavailable):
		response.Error(w, http.StatusBadRequest, "MODEL_UNAVAILABLE",
			"The model is not available in the credential region", details)
	case errors.Is(err, engine.ErrEngineTimeout):
		response.Error(w, http.StatusGatewayTimeout, "ENGINE_TIMEOUT",
			"Certification took too long and was cancelled", details)
	case errors.Is(err, engine.ErrEngineUnreachable):
		response.Error(w, http.StatusBadGateway, "ENGINE_UNAVAILABLE",
			"The certification engine is not reachable", details)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", details)
	}
}
