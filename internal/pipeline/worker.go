package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner executes a single job. *Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req Request) (string, string, error)
}

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
}

// WorkerPoolOptions configures the background job pool.
type WorkerPoolOptions struct {
	Runner    Runner
	Workers   int
	QueueSize int
	Log       zerolog.Logger
}

// WorkerPool runs queued jobs on a fixed number of goroutines.
type WorkerPool struct {
	jobs   chan Request
	runner Runner
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	pending map[string]Request

	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a pool. QueueSize defaults to 16.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.Workers < 0 {
		opts.Workers = 0
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:    make(chan Request, opts.QueueSize),
		runner:  opts.Runner,
		opts:    opts,
		log:     opts.Log.With().Str("component", "workers").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]Request),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("job worker pool started")
}

// Stop stops accepting jobs, drains the queue and waits for running jobs.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("job worker pool stopped")
}

// Enqueue queues req and returns its job ID, assigning one if empty. It
// returns false when the queue is full or the pool is stopped.
func (wp *WorkerPool) Enqueue(req Request) (string, bool) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return req.JobID, false
	}
	if _, dup := wp.pending[req.JobID]; dup {
		return req.JobID, false
	}
	select {
	case wp.jobs <- req:
		wp.pending[req.JobID] = req
		return req.JobID, true
	default:
		return req.JobID, false
	}
}

// Pending reports whether id was accepted and has not finished yet.
func (wp *WorkerPool) Pending(id string) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	_, ok := wp.pending[id]
	return ok
}

// QueueDepth returns the number of jobs waiting for a worker.
func (wp *WorkerPool) QueueDepth() int { return len(wp.jobs) }

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Workers:   wp.opts.Workers,
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for req := range wp.jobs {
		_, output, err := wp.runner.Run(wp.ctx, req)
		if err != nil {
			wp.failed.Add(1)
			log.Warn().Err(err).Str("job_id", req.JobID).Msg("queued job failed")
		} else {
			wp.completed.Add(1)
			log.Debug().Str("job_id", req.JobID).Str("output", output).Msg("queued job finished")
		}
		wp.mu.Lock()
		delete(wp.pending, req.JobID)
		wp.mu.Unlock()
	}
}
