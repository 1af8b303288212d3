package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ChuLiYu/genqueue/internal/queue"
	"github.com/ChuLiYu/genqueue/internal/runners"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// EnqueueRequest is the body of POST /api/jobs and one entry of a job file.
type EnqueueRequest struct {
	Type           string       `json:"type" yaml:"type" validate:"required"`
	CorrelationRef string       `json:"correlationRef" yaml:"correlationRef" validate:"max=256"`
	Runner         runners.Spec `json:"runner" yaml:"runner"`
	MaxAttempts    int          `json:"maxAttempts" yaml:"maxAttempts" validate:"min=0,max=10"`
}

// ListResponse is the body of GET /api/jobs.
type ListResponse struct {
	Jobs  []types.Job `json:"jobs"`
	Count int         `json:"count"`
}

// ListJobs handles GET /api/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !validStatus(types.JobStatus(status)) {
		respondError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(status))
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs := make([]types.Job, 0)
	for _, job := range h.queue.List() {
		if status != "" && job.Status != types.JobStatus(status) {
			continue
		}
		jobs = append(jobs, job)
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	respondJSON(w, http.StatusOK, ListResponse{Jobs: jobs, Count: len(jobs)})
}

// EnqueueJob handles POST /api/jobs.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	jobType, err := types.ParseJobType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	runner, err := h.runners.Build(req.Runner)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.queue.Enqueue(jobType, req.CorrelationRef, runner, req.MaxAttempts)
	switch {
	case errors.Is(err, queue.ErrQueueStopped):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.log.Error("enqueue failed", "error", err, "type", jobType)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	h.log.Info("job submitted",
		"job_id", job.ID,
		"type", job.Type,
		"runner", req.Runner.Kind)
	respondJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := types.JobID(chi.URLParam(r, "id"))
	job, ok := h.queue.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /api/jobs/{id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := types.JobID(chi.URLParam(r, "id"))
	if err := h.queue.Cancel(id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, _ := h.queue.Get(id)
	respondJSON(w, http.StatusAccepted, job)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.queue.Stats())
}

// Runners handles GET /api/runners.
func (h *Handler) Runners(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"kinds": h.runners.Kinds()})
}

func validStatus(s types.JobStatus) bool {
	for _, st := range types.AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}
