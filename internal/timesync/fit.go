package timesync

import (
	"fmt"
	"math"

	"github.com/snarg/dubsync/internal/audio"
)

// Fit time-stretches clip toward slot seconds.
//
// Clips within PassBand of the slot pass through untouched. Otherwise the
// ratio slot/native is applied, clamped to [MinRatio, MaxRatio]; a clamped
// fit returns a StretchRatioClamped annotation and an achieved duration that
// differs from the slot. Fitting an already fitted clip to the same slot is a
// no-op.
func Fit(clip SynthesizedClip, slot float64, p Params) (FittedClip, *Annotation) {
	native := clip.NativeDuration()
	fc := FittedClip{
		SegmentIndex:   clip.SegmentIndex,
		NativeDuration: native,
		SlotDuration:   slot,
		StretchRatio:   1,
	}

	if native == 0 && slot > 0 {
		// No finite ratio fills the slot; report it as pinned at the ceiling.
		fc.Waveform = clip.Waveform.Clone()
		fc.Clamped = true
		return fc, &Annotation{
			Kind:         KindStretchRatioClamped,
			SegmentIndex: clip.SegmentIndex,
			Detail:       fmt.Sprintf("empty clip, slot %.3fs left unfilled", slot),
			AppliedRatio: p.MaxRatio,
		}
	}
	if native == 0 || math.Abs(native-slot) <= p.PassBand*slot {
		fc.Waveform = clip.Waveform.Clone()
		fc.AchievedDuration = native
		return fc, nil
	}

	required := slot / native
	applied := math.Min(math.Max(required, p.MinRatio), p.MaxRatio)

	window := audio.SamplesFor(clip.Waveform.SampleRate, p.StretchWindow.Seconds())
	fc.Waveform = audio.Waveform{
		SampleRate: clip.Waveform.SampleRate,
		Samples:    Stretch(clip.Waveform.Samples, applied, window),
	}
	fc.AchievedDuration = fc.Waveform.Duration()
	fc.StretchRatio = applied

	if applied == required {
		return fc, nil
	}
	fc.Clamped = true
	return fc, &Annotation{
		Kind:         KindStretchRatioClamped,
		SegmentIndex: clip.SegmentIndex,
		Detail: fmt.Sprintf("native %.3fs, slot %.3fs, achieved %.3fs",
			native, slot, fc.AchievedDuration),
		RequiredRatio: required,
		AppliedRatio:  applied,
	}
}
