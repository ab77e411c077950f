package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonatasu/dubby/internal/database"
	"github.com/jonatasu/dubby/internal/jobs"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/pipeline"
)

// fakeRunner implements JobRunner. Run writes a small artifact into dir.
type fakeRunner struct {
	mu      sync.Mutex
	dir     string
	err     error
	lastReq pipeline.Request
	calls   int
	jobs    map[string]jobs.Job
	snap    metrics.Snapshot
}

func newFakeRunner(dir string) *fakeRunner {
	return &fakeRunner{dir: dir, jobs: map[string]jobs.Job{}}
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	id := req.JobID
	if id == "" {
		id = "job-1"
	}
	if f.err != nil {
		f.jobs[id] = jobs.Job{ID: id, State: jobs.StateFailed, Error: f.err.Error()}
		return id, "", f.err
	}
	out := filepath.Join(f.dir, id+".dubbed.wav")
	if err := os.WriteFile(out, []byte("RIFFdubbed"), 0o644); err != nil {
		return id, "", err
	}
	f.jobs[id] = jobs.Job{ID: id, State: jobs.StateCompleted, OutputPath: out}
	return id, out, nil
}

func (f *fakeRunner) Job(id string) (jobs.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	return j, ok
}

func (f *fakeRunner) Recent(n int) []jobs.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]jobs.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (f *fakeRunner) Metrics() metrics.Snapshot { return f.snap }

// fakeQueue implements JobQueue.
type fakeQueue struct {
	full    bool
	queued  []pipeline.Request
	pending map[string]bool
}

func (q *fakeQueue) Enqueue(req pipeline.Request) (string, bool) {
	if req.JobID == "" {
		req.JobID = "queued-1"
	}
	if q.full {
		return req.JobID, false
	}
	q.queued = append(q.queued, req)
	if q.pending == nil {
		q.pending = map[string]bool{}
	}
	q.pending[req.JobID] = true
	return req.JobID, true
}

func (q *fakeQueue) Pending(id string) bool { return q.pending[id] }

func (q *fakeQueue) Stats() pipeline.QueueStats {
	return pipeline.QueueStats{Pending: len(q.queued), Workers: 2}
}

// fakeArchive implements JobArchive.
type fakeArchive struct {
	jobs       []jobs.Job
	err        error
	lastFilter database.JobFilter
	purged     time.Duration
}

func (a *fakeArchive) GetJob(_ context.Context, id string) (jobs.Job, error) {
	if a.err != nil {
		return jobs.Job{}, a.err
	}
	for _, j := range a.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return jobs.Job{}, jobs.ErrNotFound
}

func (a *fakeArchive) ListJobs(_ context.Context, f database.JobFilter) ([]jobs.Job, int, error) {
	a.lastFilter = f
	if a.err != nil {
		return nil, 0, a.err
	}
	return a.jobs, len(a.jobs), nil
}

func (a *fakeArchive) PurgeJobsOlderThan(_ context.Context, retention time.Duration) (int64, error) {
	a.purged = retention
	return 3, a.err
}

func (a *fakeArchive) HealthCheck(context.Context) error { return a.err }

type fakeProbe struct{ ok bool }

func (p fakeProbe) Available() bool { return p.ok }
func (p fakeProbe) Binary() string  { return "ffmpeg" }

type fakePinger bool

func (p fakePinger) IsConnected() bool { return bool(p) }

var errBoom = errors.New("boom")
