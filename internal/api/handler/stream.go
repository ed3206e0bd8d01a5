package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/api/response"
	"github.com/modelforge/certhub/internal/certify"
	"github.com/modelforge/certhub/pkg/models"
)

// NewStreamHandler returns an http.HandlerFunc for
// GET /api/v1/certifications/{ref}/stream. It runs a synchronous
// certification and streams per-probe progress as server-sent events.
// Exactly one terminal event, complete or error, closes the stream.
func NewStreamHandler(svc ModelCertifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		if ref == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "model reference is required", nil)
			return
		}
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}
		force := r.URL.Query().Get("force") == "true"

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED",
				"Response writer does not support streaming", nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		writeEvent := func(ev models.ProgressEvent) {
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}

		result, err := svc.CertifyModel(r.Context(), ref, userID, force, writeEvent)
		if err != nil {
			// Unavailable models still produced a persisted record; surface it
			// on the terminal error event when present.
			ev := models.ProgressEvent{
				Type:  models.EventError,
				Error: streamErrorMessage(err),
			}
			if result != nil {
				ev.Certification = result.Certification
			}
			writeEvent(ev)
			return
		}

		writeEvent(models.ProgressEvent{
			Type:          models.EventComplete,
			Certification: result.Certification,
		})
	}
}

func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, certify.ErrModelNotFound):
		return "model not found"
	case errors.Is(err, certify.ErrModelUnavailable):
		return "model not available in region"
	}
	return err.Error()
}
