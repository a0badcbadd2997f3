// Package controlapi exposes the Job Manager's operations over
// JSON-over-HTTP: CreateJob, SubmitJob, RemoveJob, GetJob, ListJobs.
// Routing uses net/http.ServeMux's method-pattern syntax; each handler
// wraps exactly one Manager call and translates its domain error to a
// status code.
package controlapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/oriys/skysweep/internal/jobs"
	"github.com/oriys/skysweep/internal/logging"
)

// Handler serves the control-plane surface over the Job Manager.
type Handler struct {
	Manager *jobs.Manager
}

// RegisterRoutes registers every control-plane route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("POST /jobs/submit", h.SubmitJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.RemoveJob)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logging.Op().Error("controlapi: encode response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// CreateJob handles POST /jobs: {"name": "..."} -> the newly allocated
// Job in state Created.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	job, err := h.Manager.CreateJob(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// SubmitJob handles POST /jobs/submit with a YAML job description body
// and replies with the allocated id.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.Manager.SubmitJob(body)
	if err != nil {
		status := http.StatusInternalServerError
		var notReady jobs.ErrJobNotReady
		if errors.As(err, &notReady) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"id": id})
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Manager.ListJobs())
}

// GetJob handles GET /jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := h.Manager.GetJob(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RemoveJob handles DELETE /jobs/{id}, failing with 409 if the job is
// running.
func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Manager.RemoveJob(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func statusFor(err error) int {
	var notFound jobs.ErrJobNotFound
	var running jobs.ErrJobIsRunning
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &running):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscan(s, &id); err != nil {
		return 0, fmt.Errorf("controlapi: invalid job id %q: %w", s, err)
	}
	return id, nil
}
