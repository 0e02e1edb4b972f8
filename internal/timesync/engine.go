package timesync

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/audio"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Params Params

	// Workers is the fit pool size. 0 means GOMAXPROCS.
	Workers int

	// SampleRate of the assembled track. 0 uses the original audio's rate.
	SampleRate int

	Log zerolog.Logger
}

// Engine runs complete synchronization passes. It holds no per-run state and
// is safe for concurrent use.
type Engine struct {
	params     Params
	workers    int
	sampleRate int
	log        zerolog.Logger
}

// Input is everything one run needs. None of it is modified.
type Input struct {
	Original audio.Waveform
	Segments []Segment
	Clips    []SynthesizedClip

	// SkipVAD treats speech as starting at 0, leaving the transcription's
	// leading timing untouched. Used as a fallback after ErrNoSpeechDetected.
	SkipVAD bool
}

// Result is the outcome of a successful run.
type Result struct {
	Detection   Detection
	Corrected   []CorrectedSegment
	Fitted      []FittedClip
	Track       Track
	Annotations []Annotation
	Elapsed     time.Duration
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("sync params: %w", err)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		params:     opts.Params,
		workers:    workers,
		sampleRate: opts.SampleRate,
		log:        opts.Log,
	}, nil
}

// Params returns the engine's tuning.
func (e *Engine) Params() Params { return e.params }

// Workers returns the fit pool size.
func (e *Engine) Workers() int { return e.workers }

// Run executes VAD, correction, parallel fitting and assembly. The run is
// atomic: on any error, including cancellation, no partial result is
// returned.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()

	// 1. Validate before any signal work
	if err := ValidateSegments(in.Segments); err != nil {
		return nil, err
	}
	rate := e.sampleRate
	if rate <= 0 {
		rate = in.Original.SampleRate
	}
	if rate <= 0 {
		return nil, fmt.Errorf("original audio has no sample rate")
	}
	clips, err := clipsBySegment(in.Segments, in.Clips, rate)
	if err != nil {
		return nil, err
	}

	// 2. Voice activity
	var det Detection
	if in.SkipVAD {
		det = Detection{SpeechStart: 0, Total: in.Original.Duration()}
	} else {
		det, err = Detect(in.Original, e.params)
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. Timing correction
	corrected, notes, err := Correct(in.Segments, det.SpeechStart, e.params)
	if err != nil {
		return nil, err
	}
	if !in.SkipVAD {
		for _, c := range corrected {
			if SpeechCoverage(c.Start, c.End, det.Intervals) == 0 {
				notes = append(notes, Annotation{
					Kind:         KindSegmentWithoutSpeech,
					SegmentIndex: c.Index,
					Detail:       fmt.Sprintf("no detected speech in [%.3f, %.3f)", c.Start, c.End),
				})
			}
		}
	}

	// 4. Per-segment fits, joined before assembly
	pool := newFitPool(ctx, len(corrected), e.params, e.log)
	pool.start(min(e.workers, max(1, len(corrected))))
	for i, c := range corrected {
		pool.submit(fitJob{pos: i, clip: clips[c.Index], slot: c.SlotDuration})
	}
	results, err := pool.wait()
	if err != nil {
		return nil, err
	}
	fitted := make([]FittedClip, len(results))
	for i, r := range results {
		fitted[i] = r.clip
		if r.note != nil {
			notes = append(notes, *r.note)
		}
	}

	// 5. Assembly
	track, err := Assemble(corrected, fitted, rate)
	if err != nil {
		return nil, err
	}
	if err := track.Manifest.Verify(track.Waveform.Len()); err != nil {
		return nil, fmt.Errorf("assembled track failed verification: %w", err)
	}
	track.Manifest.Annotations = notes

	elapsed := time.Since(start)
	e.log.Info().
		Int("segments", len(corrected)).
		Float64("speech_start", det.SpeechStart).
		Float64("track_duration", track.Waveform.Duration()).
		Int64("clamped", pool.clamped.Load()).
		Int("annotations", len(notes)).
		Dur("elapsed", elapsed).
		Msg("synchronization complete")

	return &Result{
		Detection:   det,
		Corrected:   corrected,
		Fitted:      fitted,
		Track:       track,
		Annotations: notes,
		Elapsed:     elapsed,
	}, nil
}

// clipsBySegment pairs every segment with exactly one clip, resampled to rate.
func clipsBySegment(segments []Segment, clips []SynthesizedClip, rate int) (map[int]SynthesizedClip, error) {
	out := make(map[int]SynthesizedClip, len(clips))
	for _, c := range clips {
		if _, dup := out[c.SegmentIndex]; dup {
			return nil, fmt.Errorf("duplicate clip for segment %d", c.SegmentIndex)
		}
		if c.Waveform.SampleRate != rate {
			c.Waveform = audio.Resample(c.Waveform, rate)
		}
		out[c.SegmentIndex] = c
	}
	seen := make(map[int]bool, len(segments))
	for _, s := range segments {
		if seen[s.Index] {
			return nil, fmt.Errorf("duplicate segment index %d", s.Index)
		}
		seen[s.Index] = true
		if _, ok := out[s.Index]; !ok {
			return nil, fmt.Errorf("no clip for segment %d", s.Index)
		}
	}
	return out, nil
}
