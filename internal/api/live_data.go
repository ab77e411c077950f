package api

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jonatasu/dubby/internal/database"
	"github.com/jonatasu/dubby/internal/jobs"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/pipeline"
)

// JobRunner is the orchestrator as seen by the HTTP layer.
type JobRunner interface {
	Run(ctx context.Context, req pipeline.Request) (string, string, error)
	Job(id string) (jobs.Job, bool)
	Recent(n int) []jobs.Job
	Metrics() metrics.Snapshot
}

// JobQueue accepts jobs for background execution.
type JobQueue interface {
	Enqueue(req pipeline.Request) (string, bool)
	Pending(id string) bool
	Stats() pipeline.QueueStats
}

// JobArchive is the persistent job history. Nil when no database is configured.
type JobArchive interface {
	GetJob(ctx context.Context, id string) (jobs.Job, error)
	ListJobs(ctx context.Context, f database.JobFilter) ([]jobs.Job, int, error)
	PurgeJobsOlderThan(ctx context.Context, retention time.Duration) (int64, error)
	HealthCheck(ctx context.Context) error
}

// EventSource provides the job event stream to SSE clients.
// The ingest event bus implements this interface; api owns it to avoid an import cycle.
type EventSource interface {
	// Subscribe returns a channel that receives events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent
}

// WatcherStatusData represents the status of the inbox directory watcher.
type WatcherStatusData struct {
	Status        string `json:"status"` // "watching", "stopped"
	WatchDir      string `json:"watch_dir"`
	FilesQueued   int64  `json:"files_queued"`
	FilesRejected int64  `json:"files_rejected"`
}

// EventFilter specifies which events an SSE subscriber wants to receive.
// Empty lists match everything.
type EventFilter struct {
	Types  []string
	JobIDs []string
}

// Matches reports whether e passes both lists.
func (f EventFilter) Matches(e SSEEvent) bool {
	if len(f.Types) > 0 && !slices.ContainsFunc(f.Types, func(t string) bool { return strings.TrimSpace(t) == e.Type }) {
		return false
	}
	return len(f.JobIDs) == 0 || slices.Contains(f.JobIDs, e.JobID)
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID        string `json:"event_id"`
	Type      string `json:"event_type"`
	JobID     string `json:"job_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      []byte `json:"-"` // pre-serialized JSON payload
}
