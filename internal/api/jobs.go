package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/database"
	"github.com/jonatasu/dubby/internal/jobs"
)

// JobsHandler serves job status lookups. The in-memory registry is
// authoritative for jobs started by this process; the archive covers the rest.
type JobsHandler struct {
	runner  JobRunner
	queue   JobQueue
	archive JobArchive
	log     zerolog.Logger
}

func NewJobsHandler(runner JobRunner, queue JobQueue, archive JobArchive, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		runner:  runner,
		queue:   queue,
		archive: archive,
		log:     log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/job/{id}", h.GetJob)
}

// ListJobs returns archived jobs, newest first. Without a database it lists
// the registry instead.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, _ := QueryString(r, "state")
	switch jobs.State(state) {
	case "", jobs.StateRunning, jobs.StateCompleted, jobs.StateFailed:
	default:
		WriteError(w, http.StatusBadRequest, "invalid state: must be running, completed or failed")
		return
	}

	if h.archive != nil {
		list, total, err := h.archive.ListJobs(r.Context(), database.JobFilter{State: state, Limit: p.Limit, Offset: p.Offset})
		if err != nil {
			h.log.Error().Err(err).Msg("failed to list archived jobs")
			WriteError(w, http.StatusInternalServerError, "failed to list jobs")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"jobs": list, "total": total, "source": "archive"})
		return
	}

	recent := h.runner.Recent(0)
	filtered := make([]jobs.Job, 0, len(recent))
	for _, j := range recent {
		if state == "" || string(j.State) == state {
			filtered = append(filtered, j)
		}
	}
	total := len(filtered)
	start := min(p.Offset, total)
	end := min(start+p.Limit, total)
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": filtered[start:end], "total": total, "source": "registry"})
}

// GetJob returns one job: registry first, then the queue, then the archive.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if j, ok := h.runner.Job(id); ok {
		WriteJSON(w, http.StatusOK, j)
		return
	}
	if h.queue != nil && h.queue.Pending(id) {
		WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "state": "queued"})
		return
	}
	if h.archive != nil {
		j, err := h.archive.GetJob(r.Context(), id)
		if err == nil {
			WriteJSON(w, http.StatusOK, j)
			return
		}
		if !errors.Is(err, jobs.ErrNotFound) {
			h.log.Error().Err(err).Str("job_id", id).Msg("archive lookup failed")
			WriteError(w, http.StatusInternalServerError, "job lookup failed")
			return
		}
	}
	WriteError(w, http.StatusNotFound, "job not found")
}

// PurgeJobs deletes archived jobs older than ?older_than (a Go duration,
// default 720h). Only mounted when a database and an auth token are configured.
func (h *JobsHandler) PurgeJobs(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		WriteError(w, http.StatusServiceUnavailable, "job archive not configured")
		return
	}
	retention := 720 * time.Hour
	if v, ok := QueryString(r, "older_than"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid older_than: must be a positive duration like 168h")
			return
		}
		retention = d
	}
	n, err := h.archive.PurgeJobsOlderThan(r.Context(), retention)
	if err != nil {
		h.log.Error().Err(err).Msg("purge failed")
		WriteError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	h.log.Info().Int64("deleted", n).Dur("older_than", retention).Msg("archived jobs purged")
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": n, "older_than": retention.String()})
}
