package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/pkg/logging"
)

// JobsHandler exposes background job status lookups.
type JobsHandler struct {
	store  jobs.JobRecorder
	logger *logging.Logger
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(store jobs.JobRecorder, logger *logging.Logger) *JobsHandler {
	if store == nil {
		panic("handlers: job store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobsHandler{store: store, logger: logger}
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
