package timesync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// fitJob is one per-segment fit, keyed by its position in corrected order.
type fitJob struct {
	pos  int
	clip SynthesizedClip
	slot float64
}

type fitResult struct {
	clip FittedClip
	note *Annotation
}

// fitPool fans fits out to a fixed set of workers. Each worker writes only
// its own result slot, so results need no locking; wait is the join barrier
// that assembly depends on.
type fitPool struct {
	jobs    chan fitJob
	results []fitResult
	params  Params
	log     zerolog.Logger
	ctx     context.Context
	wg      sync.WaitGroup

	completed atomic.Int64
	clamped   atomic.Int64
	skipped   atomic.Int64
}

func newFitPool(ctx context.Context, size int, params Params, log zerolog.Logger) *fitPool {
	return &fitPool{
		jobs:    make(chan fitJob, size),
		results: make([]fitResult, size),
		params:  params,
		log:     log,
		ctx:     ctx,
	}
}

func (fp *fitPool) start(workers int) {
	for i := 0; i < workers; i++ {
		fp.wg.Add(1)
		go fp.worker(i)
	}
}

// submit never blocks: the queue is sized for every segment of the run.
func (fp *fitPool) submit(j fitJob) {
	fp.jobs <- j
}

// wait closes the queue and blocks until every worker has drained it.
// A cancelled run yields no results.
func (fp *fitPool) wait() ([]fitResult, error) {
	close(fp.jobs)
	fp.wg.Wait()
	if err := fp.ctx.Err(); err != nil {
		return nil, err
	}
	return fp.results, nil
}

func (fp *fitPool) worker(id int) {
	defer fp.wg.Done()
	log := fp.log.With().Int("worker", id).Logger()

	for job := range fp.jobs {
		if fp.ctx.Err() != nil {
			fp.skipped.Add(1)
			continue
		}
		fc, note := Fit(job.clip, job.slot, fp.params)
		fp.results[job.pos] = fitResult{clip: fc, note: note}
		fp.completed.Add(1)

		if note != nil {
			fp.clamped.Add(1)
			log.Warn().
				Int("segment", job.clip.SegmentIndex).
				Float64("required_ratio", note.RequiredRatio).
				Float64("applied_ratio", note.AppliedRatio).
				Msg("stretch ratio clamped")
			continue
		}
		log.Debug().
			Int("segment", job.clip.SegmentIndex).
			Float64("ratio", fc.StretchRatio).
			Float64("slot", job.slot).
			Msg("clip fitted")
	}
}
