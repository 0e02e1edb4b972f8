// Package timesync aligns synthesized speech clips onto a single track so
// that segment onsets follow the original speech.
//
// A run is a pure pipeline: Detect finds where speech really is, Correct
// reconciles transcription timestamps with it, Fit time-stretches each clip
// toward its slot, and Assemble lays everything out with forward overflow
// propagation. Engine wires the stages together with a parallel fit stage.
package timesync

import (
	"github.com/snarg/dubsync/internal/audio"
)

// Segment is one transcribed utterance. Start and End are seconds on the
// original track and are treated as untrusted estimates.
type Segment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SpeechInterval is a VAD-detected span of speech in seconds.
type SpeechInterval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (iv SpeechInterval) Duration() float64 { return iv.End - iv.Start }

// CorrectedSegment is a Segment whose boundaries were reconciled against
// VAD evidence and the previous segment.
type CorrectedSegment struct {
	Segment
	OriginalStart float64 `json:"original_start"`
	OriginalEnd   float64 `json:"original_end"`

	// SlotDuration is the time budget for this segment's clip. May be zero.
	SlotDuration float64 `json:"slot_duration"`

	// GapBefore is the silence between the previous corrected end (or the
	// track start) and this segment's corrected start. Never negative.
	GapBefore float64 `json:"gap_before"`
}

// SynthesizedClip is rendered speech for one segment, of arbitrary length.
type SynthesizedClip struct {
	SegmentIndex int
	Waveform     audio.Waveform
}

// NativeDuration is the clip length as produced by the synthesizer.
func (c SynthesizedClip) NativeDuration() float64 { return c.Waveform.Duration() }

// FittedClip is a clip after time-scale modification.
type FittedClip struct {
	SegmentIndex     int
	Waveform         audio.Waveform
	NativeDuration   float64
	AchievedDuration float64
	SlotDuration     float64
	StretchRatio     float64
	Clamped          bool
}

// SpanKind distinguishes timeline spans.
type SpanKind string

const (
	SpanSilence SpanKind = "silence"
	SpanClip    SpanKind = "clip"
)

// Span is one contiguous region of the assembled track.
type Span struct {
	Kind         SpanKind `json:"kind"`
	SegmentIndex int      `json:"segment_index"`
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
}

// Timeline is the ordered list of spans covering [0, total duration).
type Timeline []Span

// ManifestEntry records where a segment actually landed on the track.
type ManifestEntry struct {
	SegmentIndex   int     `json:"segment_index"`
	ActualStart    float64 `json:"actual_start"`
	ActualEnd      float64 `json:"actual_end"`
	GapBefore      float64 `json:"gap_before"`
	CorrectedStart float64 `json:"corrected_start"`
	CorrectedEnd   float64 `json:"corrected_end"`
	Drift          float64 `json:"drift"`
	StretchRatio   float64 `json:"stretch_ratio"`

	GapSamples  int `json:"gap_samples"`
	StartSample int `json:"start_sample"`
	EndSample   int `json:"end_sample"`
}

// Duration returns the placed clip length.
func (e ManifestEntry) Duration() float64 { return e.ActualEnd - e.ActualStart }

// Manifest is the ground truth of segment placement after assembly.
type Manifest struct {
	SampleRate  int             `json:"sample_rate"`
	Entries     []ManifestEntry `json:"entries"`
	Annotations []Annotation    `json:"annotations,omitempty"`
}
