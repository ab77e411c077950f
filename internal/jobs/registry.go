// Package jobs tracks the state of dubbing jobs for the life of the process.
package jobs

import (
	"errors"
	"maps"
	"sort"
	"sync"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	ErrNotFound  = errors.New("job not found")
	ErrJobExists = errors.New("job already running")
	ErrFinished  = errors.New("job already finished")
)

// PhaseRecord is the timing of one attempted pipeline phase.
type PhaseRecord struct {
	Phase   string         `json:"phase"`
	Seconds float64        `json:"seconds"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Job is a snapshot of one pipeline run.
type Job struct {
	ID           string        `json:"job_id"`
	State        State         `json:"state"`
	SrcLang      string        `json:"src_lang"`
	DstLang      string        `json:"dst_lang"`
	InputPath    string        `json:"input_path"`
	StartedAt    time.Time     `json:"started_at"`
	Phases       []PhaseRecord `json:"phases"`
	Error        string        `json:"error,omitempty"`
	OutputPath   string        `json:"output_path,omitempty"`
	TotalSeconds *float64      `json:"total_seconds,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

func (j *Job) clone() Job {
	c := *j
	c.Phases = make([]PhaseRecord, len(j.Phases))
	for i, p := range j.Phases {
		c.Phases[i] = PhaseRecord{Phase: p.Phase, Seconds: p.Seconds, Extra: maps.Clone(p.Extra)}
	}
	if j.TotalSeconds != nil {
		v := *j.TotalSeconds
		c.TotalSeconds = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		c.FinishedAt = &v
	}
	return c
}

type entry struct {
	mu  sync.Mutex
	job Job
}

// Registry maps job IDs to their mutable records. The map lock only guards
// membership; each entry has its own lock so concurrent jobs never contend on
// each other's updates.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), now: time.Now}
}

// Create registers a running job. An ID whose previous job has finished is
// reused; an ID that is still running is rejected with ErrJobExists.
func (r *Registry) Create(id, srcLang, dstLang, inputPath string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.mu.Lock()
		running := !e.job.State.Terminal()
		e.mu.Unlock()
		if running {
			return Job{}, ErrJobExists
		}
	}

	e := &entry{job: Job{
		ID:        id,
		State:     StateRunning,
		SrcLang:   srcLang,
		DstLang:   dstLang,
		InputPath: inputPath,
		StartedAt: r.now(),
		Phases:    []PhaseRecord{},
	}}
	r.entries[id] = e
	return e.job.clone(), nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// update applies fn to a running job under its entry lock.
func (r *Registry) update(id string, fn func(*Job)) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.State.Terminal() {
		return ErrFinished
	}
	fn(&e.job)
	return nil
}

// RecordPhase appends a phase timing to a running job.
func (r *Registry) RecordPhase(id, phase string, seconds float64, extra map[string]any) error {
	return r.update(id, func(j *Job) {
		j.Phases = append(j.Phases, PhaseRecord{Phase: phase, Seconds: seconds, Extra: maps.Clone(extra)})
	})
}

// Complete marks a job completed with its output artifact.
func (r *Registry) Complete(id, outputPath string, totalSeconds float64) error {
	return r.update(id, func(j *Job) {
		now := r.now()
		j.State = StateCompleted
		j.OutputPath = outputPath
		j.TotalSeconds = &totalSeconds
		j.FinishedAt = &now
	})
}

// Fail marks a job failed with a descriptive error.
func (r *Registry) Fail(id, errMsg string) error {
	return r.update(id, func(j *Job) {
		now := r.now()
		j.State = StateFailed
		j.Error = errMsg
		j.OutputPath = ""
		j.FinishedAt = &now
	})
}

// Get returns a copy of the job. The copy may reflect a job mid-run.
func (r *Registry) Get(id string) (Job, bool) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone(), true
}

// Recent returns up to n jobs, most recently started first. n <= 0 returns all.
func (r *Registry) Recent(n int) []Job {
	r.mu.RLock()
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	r.mu.RUnlock()

	out := make([]Job, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		out = append(out, e.job.clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Counts returns the number of jobs in each state.
func (r *Registry) Counts() map[State]int {
	r.mu.RLock()
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	r.mu.RUnlock()

	counts := map[State]int{StateRunning: 0, StateCompleted: 0, StateFailed: 0}
	for _, e := range list {
		e.mu.Lock()
		counts[e.job.State]++
		e.mu.Unlock()
	}
	return counts
}
