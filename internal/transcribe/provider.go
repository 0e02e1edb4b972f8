package transcribe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/snarg/dubsync/internal/timesync"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "whisper", "deepinfra", "elevenlabs"
	Model() string // model identifier for DB/logs
}

// TranscribeOpts are per-request options. Zero values are omitted from
// requests.
type TranscribeOpts struct {
	Temperature float64
	Language    string
	Prompt      string // domain vocabulary
	Hotwords    string // comma-separated boost terms
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Segments []timesync.Segment
}

// Word is a timestamped word from providers that only return word timing.
type Word struct {
	Word  string
	Start float64 // seconds
	End   float64 // seconds
}

// Options selects and configures a provider.
type Options struct {
	Provider string // whisper, deepinfra, elevenlabs
	URL      string
	APIKey   string
	Model    string
	Keyterms string
	Timeout  time.Duration
}

// New builds the provider named by opts.Provider.
func New(opts Options) (Provider, error) {
	switch opts.Provider {
	case "", "whisper":
		return NewWhisperClient(opts.URL, opts.APIKey, opts.Model, opts.Timeout), nil
	case "deepinfra":
		return NewDeepInfraClient(opts.APIKey, opts.Model, opts.Timeout), nil
	case "elevenlabs":
		return NewElevenLabsClient(opts.APIKey, opts.Model, opts.Keyterms, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", opts.Provider)
	}
}

type rawSegment struct {
	Text  string
	Start float64
	End   float64
}

// normalizeSegments drops empty and zero-length segments, orders the rest by
// start time and numbers them 0..n-1.
func normalizeSegments(raw []rawSegment) []timesync.Segment {
	kept := make([]rawSegment, 0, len(raw))
	for _, r := range raw {
		r.Text = strings.TrimSpace(r.Text)
		if r.Text == "" || r.End <= r.Start {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	out := make([]timesync.Segment, len(kept))
	for i, r := range kept {
		out[i] = timesync.Segment{Index: i, Start: r.Start, End: r.End, Text: r.Text}
	}
	return out
}

// Word grouping limits for providers without segment output.
const (
	segmentPause    = 0.6 // seconds of silence that closes a segment
	segmentMaxWords = 40
)

// segmentsFromWords groups words into utterance segments. A segment closes on
// a pause of segmentPause or more, after sentence-final punctuation, or when
// it reaches segmentMaxWords.
func segmentsFromWords(words []Word) []timesync.Segment {
	var (
		raw  []rawSegment
		cur  []string
		segS float64
		segE float64
	)
	flush := func() {
		if len(cur) > 0 {
			raw = append(raw, rawSegment{Text: strings.Join(cur, " "), Start: segS, End: segE})
		}
		cur = cur[:0]
	}
	for _, w := range words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		if len(cur) > 0 && w.Start-segE >= segmentPause {
			flush()
		}
		if len(cur) == 0 {
			segS = w.Start
		}
		cur = append(cur, text)
		segE = w.End
		if len(cur) >= segmentMaxWords || strings.ContainsAny(text[len(text)-1:], ".?!") {
			flush()
		}
	}
	flush()
	return normalizeSegments(raw)
}
