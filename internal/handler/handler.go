// Package handler exposes workflows, saved sessions and frame uploads over
// HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"instrumentation-backend/internal/generation"
	"instrumentation-backend/internal/storage"
	"instrumentation-backend/internal/store"
	"instrumentation-backend/internal/validation"
	"instrumentation-backend/internal/workflow"
)

const maxBodyBytes = 1 << 20 // 1MB

type ctxKey int

const ownerKey ctxKey = iota

// Handler serves the /api/v1 routes.
type Handler struct {
	Workflows *workflow.Registry
	Store     store.Store
	Frames    storage.FrameStorage
	Logger    *zap.Logger
}

// Register mounts every route on api, which is expected to be the /api/v1
// subrouter.
func (h *Handler) Register(api *mux.Router) {
	api.Use(requireUser)

	api.HandleFunc("/workflows", h.CreateWorkflow).Methods("POST")
	api.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods("GET")
	api.HandleFunc("/workflows/{id}", h.DiscardWorkflow).Methods("DELETE")
	api.HandleFunc("/workflows/{id}/start", h.StartAnalysis).Methods("POST")
	api.HandleFunc("/workflows/{id}/messages", h.SubmitAnswer).Methods("POST")
	api.HandleFunc("/workflows/{id}/metrics/{metricId}/toggle", h.ToggleMetric).Methods("POST")
	api.HandleFunc("/workflows/{id}/approve/metrics", h.ApproveMetrics).Methods("POST")
	api.HandleFunc("/workflows/{id}/approve/taxonomy", h.ApproveTaxonomy).Methods("POST")
	api.HandleFunc("/workflows/{id}/reject", h.Reject).Methods("POST")
	api.HandleFunc("/workflows/{id}/save", h.SaveProgress).Methods("POST")
	api.HandleFunc("/workflows/{id}/restart", h.Restart).Methods("POST")

	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/resume", h.ResumeSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")

	api.HandleFunc("/frames", h.UploadFrame).Methods("POST")
}

// requireUser rejects requests without an X-User-ID header. The header is
// injected by the API gateway.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-User-ID")
		if owner == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-User-ID header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// decode reads an optional JSON body. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return validation.New(validation.ErrInvalidInput, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrBusy):
		return http.StatusConflict
	case validation.IsValidation(err):
		return http.StatusBadRequest
	case generation.IsTransport(err):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound), errors.Is(err, workflow.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	default:
		// Persistence failures and anything unexpected.
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
