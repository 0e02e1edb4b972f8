package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/events"
	"github.com/snarg/dubsync/internal/metrics"
)

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("job queue full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("job pool stopped")

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
}

// EventPublishFunc is a callback for publishing job events.
type EventPublishFunc func(e events.EventData)

// WorkerPoolOptions configures the job worker pool.
type WorkerPoolOptions struct {
	Store        Store
	Processor    Processor
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration // 0 means no per-job deadline
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// WorkerPool runs dub jobs on a fixed set of workers fed by a bounded queue.
type WorkerPool struct {
	jobs    chan *Job
	store   Store
	opts    WorkerPoolOptions
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards jobs against send-after-close
	stopped bool

	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a job worker pool. A nil Store gets a MemoryStore.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan *Job, max(0, opts.QueueSize)),
		store:  opts.Store,
		opts:   opts,
		log:    opts.Log.With().Str("component", "jobs").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", cap(wp.jobs)).Msg("job worker pool started")
}

// Stop rejects new jobs, lets workers drain the queue and waits for them.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.jobs)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("job worker pool stopped")
}

// Submit records a new queued job and enqueues it. The job is persisted
// before it is queued; a full queue marks it failed and returns ErrQueueFull.
func (wp *WorkerPool) Submit(ctx context.Context, req Request, origin string) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	j := NewJob(req, origin)
	if err := wp.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	wp.publish(j)

	// Workers own j once it is queued
	snap := clone(*j)
	if err := wp.enqueue(j); err != nil {
		metrics.JobsRejectedTotal.Inc()
		wp.finish(j, StateFailed, err.Error())
		return j, err
	}
	return &snap, nil
}

func (wp *WorkerPool) enqueue(j *Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}
	select {
	case wp.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Running:   int(wp.running.Load()),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Workers:   wp.opts.Workers,
	}
}

// Store returns the pool's job store.
func (wp *WorkerPool) Store() Store { return wp.store }

// QueuePending and JobsRunning feed the metrics collector.
func (wp *WorkerPool) QueuePending() int { return len(wp.jobs) }
func (wp *WorkerPool) JobsRunning() int  { return int(wp.running.Load()) }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for j := range wp.jobs {
		wp.running.Add(1)
		err := wp.processJob(log, j)
		wp.running.Add(-1)
		if err != nil {
			log.Warn().Err(err).Str("job_id", j.ID).Msg("job failed")
		}
	}
}

func (wp *WorkerPool) processJob(log zerolog.Logger, j *Job) error {
	ctx := wp.ctx
	if wp.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
		defer cancel()
	}

	now := time.Now().UTC()
	j.State = StateRunning
	j.StartedAt = &now
	if err := wp.store.UpdateJob(ctx, j); err != nil {
		log.Warn().Err(err).Str("job_id", j.ID).Msg("failed to record job start")
	}
	wp.publish(j)

	out, err := wp.opts.Processor.Process(ctx, j)
	if err != nil {
		wp.finish(j, StateFailed, err.Error())
		return err
	}
	if out == nil {
		out = &Outcome{}
	}

	j.Segments = out.Segments
	j.Annotations = out.Annotations
	j.Fallback = out.Fallback
	j.Artifacts = out.Artifacts
	wp.finish(j, StateSucceeded, "")

	log.Info().
		Str("job_id", j.ID).
		Int("segments", j.Segments).
		Int("annotations", j.Annotations).
		Dur("elapsed", time.Since(now)).
		Msg("job complete")
	return nil
}

// finish records a terminal state. The store write uses a fresh context so a
// timed-out job is still recorded as failed.
func (wp *WorkerPool) finish(j *Job, state State, errMsg string) {
	now := time.Now().UTC()
	j.State = state
	j.Error = errMsg
	j.FinishedAt = &now

	if state == StateSucceeded {
		wp.completed.Add(1)
	} else {
		wp.failed.Add(1)
	}
	metrics.JobsTotal.WithLabelValues(string(state)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wp.store.UpdateJob(ctx, j); err != nil {
		wp.log.Warn().Err(err).Str("job_id", j.ID).Msg("failed to record job result")
	}
	wp.publish(j)
}

func (wp *WorkerPool) publish(j *Job) {
	if wp.opts.PublishEvent == nil {
		return
	}
	wp.opts.PublishEvent(events.EventData{
		Type:    "job",
		SubType: string(j.State),
		JobID:   j.ID,
		Payload: clone(*j),
	})
}
