package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/modelforge/certhub/internal/api/middleware"
	"github.com/modelforge/certhub/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	CertifyHandler      http.HandlerFunc
	CertifyBatchHandler http.HandlerFunc
	CertifyAllHandler   http.HandlerFunc
	JobStatusHandler    http.HandlerFunc
	CancelJobHandler    http.HandlerFunc
	RunHandler          http.HandlerFunc
	VendorRunHandler    http.HandlerFunc
	StreamHandler       http.HandlerFunc
	ModelCertsHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/certifications", orNotImplemented(deps.CertifyHandler))
		r.Post("/api/v1/certifications/batch", orNotImplemented(deps.CertifyBatchHandler))
		r.Post("/api/v1/certifications/all", orNotImplemented(deps.CertifyAllHandler))

		r.Get("/api/v1/certifications/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Delete("/api/v1/certifications/jobs/{jobID}", orNotImplemented(deps.CancelJobHandler))

		r.Post("/api/v1/certifications/vendors/{provider}/run", orNotImplemented(deps.VendorRunHandler))

		r.Post("/api/v1/certifications/{ref}/run", orNotImplemented(deps.RunHandler))
		r.Get("/api/v1/certifications/{ref}/stream", orNotImplemented(deps.StreamHandler))
		r.Get("/api/v1/certifications/{ref}", orNotImplemented(deps.ModelCertsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
