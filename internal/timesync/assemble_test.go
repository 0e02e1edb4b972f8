package timesync

import (
	"strings"
	"testing"

	"github.com/snarg/dubsync/internal/audio"
)

func slots(bounds ...[2]float64) []CorrectedSegment {
	out := make([]CorrectedSegment, len(bounds))
	prev := 0.0
	for i, b := range bounds {
		out[i] = CorrectedSegment{
			Segment:      Segment{Index: i, Start: b[0], End: b[1]},
			SlotDuration: b[1] - b[0],
			GapBefore:    max(0, b[0]-prev),
		}
		prev = b[1]
	}
	return out
}

func fitted(index int, seconds float64) FittedClip {
	w := tone(testRate, seconds, 0.5)
	return FittedClip{SegmentIndex: index, Waveform: w, AchievedDuration: w.Duration(), StretchRatio: 1}
}

func TestAssembleOverflowShiftsLaterClips(t *testing.T) {
	segs := slots([2]float64{0, 2}, [2]float64{2, 4}, [2]float64{4, 6})
	clips := []FittedClip{fitted(0, 3.0), fitted(1, 2.0), fitted(2, 2.0)}

	track, err := Assemble(segs, clips, testRate)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	wantStarts := []float64{0, 3.0, 5.0}
	for i, e := range track.Manifest.Entries {
		if !approx(e.ActualStart, wantStarts[i], 1e-9) {
			t.Errorf("entry %d ActualStart = %v, want %v", i, e.ActualStart, wantStarts[i])
		}
		if e.GapSamples != 0 {
			t.Errorf("entry %d GapSamples = %d, want 0", i, e.GapSamples)
		}
	}
	if !approx(track.Manifest.Entries[1].Drift, 1.0, 1e-9) {
		t.Errorf("Drift = %v, want 1.0", track.Manifest.Entries[1].Drift)
	}
	if !approx(track.Waveform.Duration(), 7.0, 1e-9) {
		t.Errorf("track duration = %v, want 7.0", track.Waveform.Duration())
	}
}

func TestAssembleUnderflowKeepsSchedule(t *testing.T) {
	segs := slots([2]float64{0, 2}, [2]float64{2, 4})
	clips := []FittedClip{fitted(0, 1.0), fitted(1, 2.0)}

	track, err := Assemble(segs, clips, testRate)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	e := track.Manifest.Entries[1]
	if e.ActualStart != 2.0 {
		t.Errorf("ActualStart = %v, want 2.0", e.ActualStart)
	}
	if e.GapSamples != testRate {
		t.Errorf("GapSamples = %d, want %d", e.GapSamples, testRate)
	}
	if e.Drift != 0 {
		t.Errorf("Drift = %v, want 0", e.Drift)
	}
}

func TestAssembleLeadingGapIsSilence(t *testing.T) {
	segs := slots([2]float64{0.5, 1.5})
	track, err := Assemble(segs, []FittedClip{fitted(0, 1.0)}, testRate)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	lead := audio.SamplesFor(testRate, 0.5)
	for i := 0; i < lead; i++ {
		if track.Waveform.Samples[i] != 0 {
			t.Fatalf("sample %d = %v, want silence", i, track.Waveform.Samples[i])
		}
	}
	if track.Manifest.Entries[0].StartSample != lead {
		t.Errorf("StartSample = %d, want %d", track.Manifest.Entries[0].StartSample, lead)
	}
	if len(track.Timeline) != 2 || track.Timeline[0].Kind != SpanSilence || track.Timeline[1].Kind != SpanClip {
		t.Errorf("Timeline = %+v, want silence then clip", track.Timeline)
	}
}

func TestAssembleRoundTrip(t *testing.T) {
	segs := slots(
		[2]float64{0.3, 1.1},
		[2]float64{1.1, 2.0},
		[2]float64{2.7, 3.0},
		[2]float64{3.0, 3.0},
		[2]float64{4.25, 6.0},
	)
	clips := []FittedClip{
		fitted(0, 0.9),
		fitted(1, 0.5),
		fitted(2, 0.61),
		fitted(3, 0),
		fitted(4, 1.333),
	}
	track, err := Assemble(segs, clips, testRate)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := track.Manifest.Verify(track.Waveform.Len()); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if track.Manifest.TotalSamples() != track.Waveform.Len() {
		t.Errorf("TotalSamples = %d, want %d", track.Manifest.TotalSamples(), track.Waveform.Len())
	}
	if !approx(track.Manifest.TotalDuration(), track.Waveform.Duration(), 1e-12) {
		t.Errorf("TotalDuration = %v, want %v", track.Manifest.TotalDuration(), track.Waveform.Duration())
	}

	// Timeline spans tile the track with no holes.
	cursor := 0.0
	for i, sp := range track.Timeline {
		if !approx(sp.Start, cursor, 1e-9) {
			t.Errorf("span %d starts at %v, want %v", i, sp.Start, cursor)
		}
		cursor = sp.End
	}
	if !approx(cursor, track.Waveform.Duration(), 1e-9) {
		t.Errorf("timeline ends at %v, want %v", cursor, track.Waveform.Duration())
	}

	prev := -1.0
	for _, e := range track.Manifest.Entries {
		if e.ActualStart < prev {
			t.Errorf("segment %d placed at %v before %v", e.SegmentIndex, e.ActualStart, prev)
		}
		prev = e.ActualStart
	}
}

func TestAssembleErrors(t *testing.T) {
	segs := slots([2]float64{0, 1}, [2]float64{1, 2})

	tests := []struct {
		name  string
		clips []FittedClip
		rate  int
		want  string
	}{
		{"missing_clip", []FittedClip{fitted(0, 1)}, testRate, "no clip for segment 1"},
		{"duplicate_clip", []FittedClip{fitted(0, 1), fitted(0, 1), fitted(1, 1)}, testRate, "duplicate clip"},
		{"rate_mismatch", []FittedClip{fitted(0, 1), fitted(1, 1)}, 22050, "sample rate"},
		{"bad_rate", nil, 0, "invalid sample rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(segs, tt.clips, tt.rate)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestManifestVerifyDetectsTampering(t *testing.T) {
	segs := slots([2]float64{0, 1}, [2]float64{1.5, 2})
	track, err := Assemble(segs, []FittedClip{fitted(0, 1), fitted(1, 0.5)}, testRate)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := track.Manifest.Verify(track.Waveform.Len() + 1); err == nil {
		t.Error("Verify accepted a wrong track length")
	}
	m := track.Manifest
	m.Entries = append([]ManifestEntry(nil), m.Entries...)
	m.Entries[1].StartSample++
	m.Entries[1].EndSample++
	if err := m.Verify(track.Waveform.Len()); err == nil {
		t.Error("Verify accepted a shifted entry")
	}
}
