// Package pipeline runs a complete dub: extract, transcribe, translate,
// synthesize, synchronize, render artifacts, mux and store.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/audio"
	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/media"
	"github.com/snarg/dubsync/internal/metrics"
	"github.com/snarg/dubsync/internal/storage"
	"github.com/snarg/dubsync/internal/subtitle"
	"github.com/snarg/dubsync/internal/synthesize"
	"github.com/snarg/dubsync/internal/timesync"
	"github.com/snarg/dubsync/internal/transcribe"
	"github.com/snarg/dubsync/internal/translate"
)

// Artifact names under jobs/{id}/.
const (
	TrackName    = "track.wav"
	ManifestName = "manifest.json"
	SRTName      = "subtitles.srt"
	VTTName      = "subtitles.vtt"
	VideoName    = "dubbed.mp4"
)

// ExtractRate is the sample rate of the audio extracted for transcription
// and speech detection.
const ExtractRate = 16000

// MediaTools is the ffmpeg surface the pipeline needs; *media.Tools in
// production.
type MediaTools interface {
	ExtractAudio(ctx context.Context, video, out string, rate int) error
	Mux(ctx context.Context, opts media.MuxOptions) error
}

// Options wires a Dubber's collaborators.
type Options struct {
	Transcriber transcribe.Provider
	Translator  translate.Translator
	Synthesizer synthesize.Synthesizer
	Media       MediaTools
	Engine      *timesync.Engine
	Store       storage.ArtifactStore

	TranscribeOpts       transcribe.TranscribeOpts
	TranslateConcurrency int
	TTSConcurrency       int
	SampleRate           int // track rate; clips are resampled to it

	NoSpeechFallback bool
	EmbedSubtitles   bool
	TempDir          string

	Log zerolog.Logger
}

// Dubber runs dub jobs. It is safe for concurrent use.
type Dubber struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options) (*Dubber, error) {
	var missing []error
	if opts.Transcriber == nil {
		missing = append(missing, errors.New("transcriber"))
	}
	if opts.Translator == nil {
		missing = append(missing, errors.New("translator"))
	}
	if opts.Synthesizer == nil {
		missing = append(missing, errors.New("synthesizer"))
	}
	if opts.Media == nil {
		missing = append(missing, errors.New("media tools"))
	}
	if opts.Engine == nil {
		missing = append(missing, errors.New("sync engine"))
	}
	if opts.Store == nil {
		missing = append(missing, errors.New("artifact store"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("pipeline: missing %w", err)
	}
	return &Dubber{opts: opts, log: opts.Log.With().Str("component", "pipeline").Logger()}, nil
}

// Job is one dub request.
type Job struct {
	ID         string
	VideoPath  string
	SourceLang string // empty lets the transcriber detect it
	TargetLang string
	Voice      string
}

// Outcome is a finished dub.
type Outcome struct {
	Result    *timesync.Result
	Segments  []timesync.Segment // translated
	Fallback  bool
	Artifacts []string
	Stages    map[string]time.Duration
}

// ManifestDocument is the manifest.json artifact.
type ManifestDocument struct {
	JobID       string                      `json:"job_id"`
	SourceLang  string                      `json:"source_lang"`
	TargetLang  string                      `json:"target_lang"`
	SpeechStart float64                     `json:"speech_start"`
	Fallback    bool                        `json:"no_speech_fallback"`
	Duration    float64                     `json:"duration"`
	Segments    []timesync.Segment          `json:"segments"`
	Corrected   []timesync.CorrectedSegment `json:"corrected"`
	Manifest    timesync.Manifest           `json:"manifest"`
}

// Process runs every stage of a dub. Temp files are removed on return; only
// the stored artifacts remain.
func (d *Dubber) Process(ctx context.Context, job Job) (*Outcome, error) {
	log := d.log.With().Str("job_id", job.ID).Logger()
	out := &Outcome{Stages: make(map[string]time.Duration)}
	stage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		elapsed := time.Since(start)
		out.Stages[name] = elapsed
		metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Debug().Str("stage", name).Dur("elapsed", elapsed).Msg("stage complete")
		return nil
	}

	tmp, err := os.MkdirTemp(d.opts.TempDir, "dubsync-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	// 1. Extract audio
	originalPath := filepath.Join(tmp, "original.wav")
	if err := stage("extract", func() error {
		return d.opts.Media.ExtractAudio(ctx, job.VideoPath, originalPath, ExtractRate)
	}); err != nil {
		return nil, err
	}

	// 2. Transcribe
	var source []timesync.Segment
	if err := stage("transcribe", func() error {
		opts := d.opts.TranscribeOpts
		opts.Language = job.SourceLang
		resp, err := d.opts.Transcriber.Transcribe(ctx, originalPath, opts)
		if err != nil {
			return err
		}
		if len(resp.Segments) == 0 {
			return errors.New("no segments transcribed")
		}
		if job.SourceLang == "" {
			job.SourceLang = resp.Language
		}
		source = resp.Segments
		return nil
	}); err != nil {
		return nil, err
	}

	// 3. Translate
	if err := stage("translate", func() error {
		var err error
		out.Segments, err = translate.TranslateAll(ctx, d.opts.Translator, source,
			job.SourceLang, job.TargetLang, d.opts.TranslateConcurrency, log)
		return err
	}); err != nil {
		return nil, err
	}

	// 4. Synthesize, hinting each slot's length
	var clips []timesync.SynthesizedClip
	if err := stage("synthesize", func() error {
		var err error
		clips, err = synthesize.SynthesizeAll(ctx, d.opts.Synthesizer, out.Segments, synthesize.AllOptions{
			Voice:       job.Voice,
			SampleRate:  d.opts.SampleRate,
			Concurrency: d.opts.TTSConcurrency,
			Log:         log,
		})
		return err
	}); err != nil {
		return nil, err
	}

	// 5. Synchronize
	if err := stage("sync", func() error {
		original, err := audio.ReadFile(originalPath)
		if err != nil {
			return err
		}
		out.Result, out.Fallback, err = Synchronize(ctx, d.opts.Engine, timesync.Input{
			Original: original,
			Segments: out.Segments,
			Clips:    clips,
		}, d.opts.NoSpeechFallback, log)
		return err
	}); err != nil {
		return nil, err
	}

	// 6. Render track, manifest and subtitles
	files := make(map[string][]byte)
	if err := stage("render", func() error {
		var err error
		files, err = Render(job, out)
		if err != nil {
			return err
		}
		for _, name := range []string{TrackName, SRTName} {
			if err := os.WriteFile(filepath.Join(tmp, name), files[name], 0o644); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// 7. Mux
	videoPath := filepath.Join(tmp, VideoName)
	if err := stage("mux", func() error {
		opts := media.MuxOptions{
			Video:  job.VideoPath,
			Audio:  filepath.Join(tmp, TrackName),
			Output: videoPath,
		}
		if d.opts.EmbedSubtitles && len(files[SRTName]) > 0 {
			opts.Subtitles = filepath.Join(tmp, SRTName)
		}
		if err := d.opts.Media.Mux(ctx, opts); err != nil {
			return err
		}
		data, err := os.ReadFile(videoPath)
		files[VideoName] = data
		return err
	}); err != nil {
		return nil, err
	}

	// 8. Store
	if err := stage("store", func() error {
		for _, name := range []string{TrackName, ManifestName, SRTName, VTTName, VideoName} {
			key := storage.ArtifactKey(job.ID, name)
			if err := d.opts.Store.Save(ctx, key, files[name], storage.ContentType(name)); err != nil {
				return fmt.Errorf("save %s: %w", name, err)
			}
			out.Artifacts = append(out.Artifacts, name)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// 9. Metrics
	outcome := "ok"
	if out.Fallback {
		outcome = "fallback"
	}
	metrics.ObserveSync(out.Result, outcome)

	log.Info().
		Int("segments", len(out.Segments)).
		Int("annotations", len(out.Result.Annotations)).
		Bool("fallback", out.Fallback).
		Float64("duration", out.Result.Track.Manifest.TotalDuration()).
		Msg("dub complete")
	return out, nil
}

// Handle adapts Process to the job worker pool.
func (d *Dubber) Handle(ctx context.Context, j *jobs.Job) (*jobs.Outcome, error) {
	out, err := d.Process(ctx, Job{
		ID:         j.ID,
		VideoPath:  j.VideoPath,
		SourceLang: j.SourceLang,
		TargetLang: j.TargetLang,
		Voice:      j.Voice,
	})
	if err != nil {
		return nil, err
	}
	return &jobs.Outcome{
		Segments:    len(out.Segments),
		Annotations: len(out.Result.Annotations),
		Fallback:    out.Fallback,
		Artifacts:   out.Artifacts,
	}, nil
}

// Synchronize runs the engine. With fallback enabled, a run that finds no
// speech is retried with untouched leading timing and reported as such.
// Failed runs are counted here; successful ones by the caller.
func Synchronize(ctx context.Context, e *timesync.Engine, in timesync.Input, fallback bool, log zerolog.Logger) (*timesync.Result, bool, error) {
	res, err := e.Run(ctx, in)
	if err == nil {
		return res, false, nil
	}
	if !fallback || !errors.Is(err, timesync.ErrNoSpeechDetected) {
		metrics.SyncRunsTotal.WithLabelValues(metrics.SyncOutcome(err)).Inc()
		return nil, false, err
	}

	log.Warn().Msg("no speech detected, falling back to transcription timing")
	in.SkipVAD = true
	res, err = e.Run(ctx, in)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(metrics.SyncOutcome(err)).Inc()
		return nil, false, err
	}
	return res, true, nil
}

// Render encodes the track, manifest and subtitle artifacts of a finished
// sync.
func Render(job Job, out *Outcome) (map[string][]byte, error) {
	res := out.Result
	files := make(map[string][]byte, 5)

	track, err := audio.EncodeBytes(res.Track.Waveform)
	if err != nil {
		return nil, fmt.Errorf("encode track: %w", err)
	}
	files[TrackName] = track

	doc := ManifestDocument{
		JobID:       job.ID,
		SourceLang:  job.SourceLang,
		TargetLang:  job.TargetLang,
		SpeechStart: res.Detection.SpeechStart,
		Fallback:    out.Fallback,
		Duration:    res.Track.Manifest.TotalDuration(),
		Segments:    out.Segments,
		Corrected:   res.Corrected,
		Manifest:    res.Track.Manifest,
	}
	if files[ManifestName], err = json.MarshalIndent(doc, "", "  "); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	texts := make(map[int]string, len(out.Segments))
	for _, s := range out.Segments {
		texts[s.Index] = s.Text
	}
	cues := subtitle.Cues(res.Track.Manifest, texts)

	var srt, vtt bytes.Buffer
	if err := subtitle.WriteSRT(&srt, cues); err != nil {
		return nil, err
	}
	if err := subtitle.WriteVTT(&vtt, cues); err != nil {
		return nil, err
	}
	files[SRTName] = srt.Bytes()
	files[VTTName] = vtt.Bytes()
	return files, nil
}
