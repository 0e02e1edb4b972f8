package timesync

import (
	"fmt"

	"github.com/snarg/dubsync/internal/audio"
)

// Track is the immutable output of assembly.
type Track struct {
	Waveform audio.Waveform
	Timeline Timeline
	Manifest Manifest
}

// Assemble lays out the corrected segments in order. Each clip starts at its
// corrected start unless the previous clip ran past it, in which case it
// starts right where the previous clip ended: the gap shrinks, never below
// zero. Placement is therefore monotonic, and the track length is exactly the
// sum of the emitted gaps and clip lengths.
//
// All clips must be sampled at rate, and every corrected segment needs
// exactly one clip.
func Assemble(corrected []CorrectedSegment, clips []FittedClip, rate int) (Track, error) {
	if rate <= 0 {
		return Track{}, fmt.Errorf("invalid sample rate %d", rate)
	}
	byIndex := make(map[int]FittedClip, len(clips))
	for _, c := range clips {
		if c.Waveform.Len() > 0 && c.Waveform.SampleRate != rate {
			return Track{}, fmt.Errorf("clip %d: sample rate %d, want %d", c.SegmentIndex, c.Waveform.SampleRate, rate)
		}
		if _, dup := byIndex[c.SegmentIndex]; dup {
			return Track{}, fmt.Errorf("duplicate clip for segment %d", c.SegmentIndex)
		}
		byIndex[c.SegmentIndex] = c
	}

	sec := func(n int) float64 { return float64(n) / float64(rate) }

	var (
		timeline Timeline
		entries  = make([]ManifestEntry, 0, len(corrected))
		starts   = make([]int, len(corrected))
		cursor   int
	)
	for i, seg := range corrected {
		clip, ok := byIndex[seg.Index]
		if !ok {
			return Track{}, fmt.Errorf("no clip for segment %d", seg.Index)
		}

		gap := max(0, audio.SamplesFor(rate, seg.Start)-cursor)
		start := cursor + gap
		end := start + clip.Waveform.Len()

		if gap > 0 {
			timeline = append(timeline, Span{Kind: SpanSilence, SegmentIndex: seg.Index, Start: sec(cursor), End: sec(start)})
		}
		if end > start {
			timeline = append(timeline, Span{Kind: SpanClip, SegmentIndex: seg.Index, Start: sec(start), End: sec(end)})
		}

		entries = append(entries, ManifestEntry{
			SegmentIndex:   seg.Index,
			ActualStart:    sec(start),
			ActualEnd:      sec(end),
			GapBefore:      sec(gap),
			CorrectedStart: seg.Start,
			CorrectedEnd:   seg.End,
			Drift:          sec(start) - seg.Start,
			StretchRatio:   clip.StretchRatio,
			GapSamples:     gap,
			StartSample:    start,
			EndSample:      end,
		})
		starts[i] = start
		cursor = end
	}

	samples := make([]float32, cursor)
	for i, seg := range corrected {
		copy(samples[starts[i]:], byIndex[seg.Index].Waveform.Samples)
	}

	return Track{
		Waveform: audio.Waveform{SampleRate: rate, Samples: samples},
		Timeline: timeline,
		Manifest: Manifest{SampleRate: rate, Entries: entries},
	}, nil
}

// TotalSamples reconstructs the track length from the manifest alone.
func (m Manifest) TotalSamples() int {
	var n int
	for _, e := range m.Entries {
		n += e.GapSamples + (e.EndSample - e.StartSample)
	}
	return n
}

// TotalDuration reconstructs the track duration in seconds.
func (m Manifest) TotalDuration() float64 {
	if m.SampleRate <= 0 {
		return 0
	}
	return float64(m.TotalSamples()) / float64(m.SampleRate)
}

// Verify checks that the manifest accounts for every sample of the track and
// that placements never move backwards.
func (m Manifest) Verify(trackSamples int) error {
	if got := m.TotalSamples(); got != trackSamples {
		return fmt.Errorf("manifest covers %d samples, track has %d", got, trackSamples)
	}
	prevEnd := 0
	for _, e := range m.Entries {
		if e.GapSamples < 0 {
			return fmt.Errorf("segment %d: negative gap", e.SegmentIndex)
		}
		if e.StartSample != prevEnd+e.GapSamples {
			return fmt.Errorf("segment %d: starts at sample %d, want %d", e.SegmentIndex, e.StartSample, prevEnd+e.GapSamples)
		}
		prevEnd = e.EndSample
	}
	return nil
}
