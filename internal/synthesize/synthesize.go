// Package synthesize renders translated segment text to speech clips.
package synthesize

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/dubsync/internal/audio"
	"github.com/snarg/dubsync/internal/timesync"
)

// Request is one utterance to synthesize.
type Request struct {
	Index int
	Text  string
	Voice string

	// TargetDuration is the slot the clip should roughly fill, in seconds.
	// 0 means no hint.
	TargetDuration float64
}

// Synthesizer is a text-to-speech backend.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (audio.Waveform, error)
	Name() string
}

// Speaking speed bounds for duration hints. Wider ranges sound unnatural;
// the time-stretch in the sync pass absorbs the rest.
const (
	MinSpeed = 0.8
	MaxSpeed = 1.25
)

// SpeedFor estimates a speaking speed that fits text into target seconds at
// charsPerSec characters per second of normal speech.
func SpeedFor(text string, target, charsPerSec float64) float64 {
	n := utf8.RuneCountInString(text)
	if target <= 0 || charsPerSec <= 0 || n == 0 {
		return 1
	}
	natural := float64(n) / charsPerSec
	return min(max(natural/target, MinSpeed), MaxSpeed)
}

// AllOptions configures SynthesizeAll.
type AllOptions struct {
	Voice       string
	SampleRate  int // clips are resampled to this rate; 0 keeps the native rate
	Concurrency int
	Log         zerolog.Logger
}

// SynthesizeAll produces exactly one clip per segment, keyed by segment
// index and in segment order. Each segment's duration is passed as the
// target hint. The first failure cancels the rest.
func SynthesizeAll(ctx context.Context, s Synthesizer, segments []timesync.Segment, opts AllOptions) ([]timesync.SynthesizedClip, error) {
	clips := make([]timesync.SynthesizedClip, len(segments))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Concurrency))
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			w, err := s.Synthesize(ctx, Request{
				Index:          seg.Index,
				Text:           seg.Text,
				Voice:          opts.Voice,
				TargetDuration: seg.End - seg.Start,
			})
			if err != nil {
				return fmt.Errorf("segment %d: %s: %w", seg.Index, s.Name(), err)
			}
			if opts.SampleRate > 0 && w.SampleRate != opts.SampleRate {
				w = audio.Resample(w, opts.SampleRate)
			}
			clips[i] = timesync.SynthesizedClip{SegmentIndex: seg.Index, Waveform: w}
			opts.Log.Debug().
				Int("segment", seg.Index).
				Float64("native", w.Duration()).
				Float64("slot", seg.End-seg.Start).
				Msg("clip synthesized")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

// New builds the synthesizer named by provider.
func New(provider string, oa OpenAIOptions, el ElevenLabsOptions) (Synthesizer, error) {
	switch provider {
	case "", "openai":
		return NewOpenAI(oa), nil
	case "elevenlabs":
		return NewElevenLabs(el), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", provider)
	}
}
