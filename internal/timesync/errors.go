package timesync

import (
	"errors"
	"fmt"
)

// ErrNoSpeechDetected is returned when VAD finds no speech anywhere in the
// original audio. The run is aborted; falling back to untouched timing is the
// caller's decision.
var ErrNoSpeechDetected = errors.New("no speech detected")

// MalformedSegmentError rejects a run whose input contains a segment with
// start >= end (or non-finite bounds).
type MalformedSegmentError struct {
	Index int
	Start float64
	End   float64
}

func (e *MalformedSegmentError) Error() string {
	return fmt.Sprintf("malformed segment %d: start %.3f >= end %.3f", e.Index, e.Start, e.End)
}

// IsFatal reports whether err aborts a synchronization run by design (as
// opposed to cancellation or an internal failure).
func IsFatal(err error) bool {
	var mse *MalformedSegmentError
	return errors.Is(err, ErrNoSpeechDetected) || errors.As(err, &mse)
}

// AnnotationKind names a recoverable per-segment condition.
type AnnotationKind string

const (
	// KindLeadingSilenceCorrected: the first segment was moved onto the
	// detected speech start.
	KindLeadingSilenceCorrected AnnotationKind = "leading_silence_corrected"

	// KindOverlapClamped: a segment's start was clamped to the previous end.
	KindOverlapClamped AnnotationKind = "overlap_clamped"

	// KindStretchRatioClamped: the fit could not reach the slot within the
	// ratio bounds; achieved duration differs from the slot.
	KindStretchRatioClamped AnnotationKind = "stretch_ratio_clamped"

	// KindSegmentWithoutSpeech: no VAD speech overlaps the corrected slot.
	KindSegmentWithoutSpeech AnnotationKind = "segment_without_speech"
)

// Annotation is a warning recorded for one segment. Runs continue past them.
type Annotation struct {
	Kind         AnnotationKind `json:"kind"`
	SegmentIndex int            `json:"segment_index"`
	Detail       string         `json:"detail"`

	// Set for stretch annotations.
	RequiredRatio float64 `json:"required_ratio,omitempty"`
	AppliedRatio  float64 `json:"applied_ratio,omitempty"`
}

func (a Annotation) String() string {
	return fmt.Sprintf("segment %d: %s: %s", a.SegmentIndex, a.Kind, a.Detail)
}
