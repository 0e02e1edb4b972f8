package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// saver is the upload target; *S3Store in production.
type saver interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// AsyncUploader pushes artifact copies to S3 without blocking the job that
// produced them. Artifacts are already on local disk when enqueued.
type AsyncUploader struct {
	target  saver
	workers int
	ch      chan uploadJob
	log     zerolog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards ch against send-after-close
	stopped bool

	uploaded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an async uploader with the given buffer size.
func NewAsyncUploader(target saver, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		target:  target,
		workers: max(1, workers),
		ch:      make(chan uploadJob, bufferSize),
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload. Non-blocking: drops with a warning if the queue is
// full or the uploader stopped; the reconciler picks dropped keys up later.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.stopped {
		u.dropped.Add(1)
		return
	}
	job := uploadJob{key: key, data: data, contentType: contentType}
	select {
	case u.ch <- job:
	default:
		u.dropped.Add(1)
		u.log.Warn().Str("key", key).Msg("async upload queue full, skipping (artifact safe on disk)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop drains queued uploads and waits for the workers.
func (u *AsyncUploader) Stop() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.ch)
	}
	u.mu.Unlock()
	u.wg.Wait()
	u.log.Info().
		Int64("uploaded", u.uploaded.Load()).
		Int64("failed", u.failed.Load()).
		Int64("dropped", u.dropped.Load()).
		Msg("async uploader stopped")
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := u.target.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (artifact safe on disk)")
		} else {
			u.uploaded.Add(1)
		}
		cancel()
	}
}
