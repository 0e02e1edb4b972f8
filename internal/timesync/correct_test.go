package timesync

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
)

func TestCorrectLeadingSilence(t *testing.T) {
	p := DefaultParams()

	tests := []struct {
		name        string
		firstStart  float64
		speechStart float64
		tolerance   float64
		wantStart   float64
		wantNote    bool
	}{
		{"fires_beyond_tolerance", 0.1, 0.8, 0.5, 0.8, true},
		{"within_tolerance_untouched", 0.4, 0.8, 0.5, 0.4, false},
		{"exactly_at_bound_untouched", 0.25, 0.75, 0.5, 0.25, false},
		{"zero_tolerance_fires", 0.4, 0.8, 0, 0.8, true},
		{"later_than_speech_untouched", 1.2, 0.8, 0.5, 1.2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := p
			q.LeadingTolerance = tt.tolerance
			segs := []Segment{
				{Index: 0, Start: tt.firstStart, End: 2.0, Text: "hello"},
				{Index: 1, Start: 2.5, End: 3.0, Text: "world"},
			}
			got, notes, err := Correct(segs, tt.speechStart, q)
			if err != nil {
				t.Fatalf("Correct: %v", err)
			}
			if !approx(got[0].Start, tt.wantStart, 1e-12) {
				t.Errorf("Start = %v, want %v", got[0].Start, tt.wantStart)
			}
			if got[0].OriginalStart != tt.firstStart {
				t.Errorf("OriginalStart = %v, want %v", got[0].OriginalStart, tt.firstStart)
			}
			if !approx(got[0].GapBefore, tt.wantStart, 1e-12) {
				t.Errorf("GapBefore = %v, want %v", got[0].GapBefore, tt.wantStart)
			}
			if !approx(got[0].SlotDuration, 2.0-tt.wantStart, 1e-12) {
				t.Errorf("SlotDuration = %v, want %v", got[0].SlotDuration, 2.0-tt.wantStart)
			}
			hasNote := len(notes) == 1 && notes[0].Kind == KindLeadingSilenceCorrected
			if hasNote != tt.wantNote {
				t.Errorf("leading annotation = %v, want %v (notes %v)", hasNote, tt.wantNote, notes)
			}
			if got[1].Start != 2.5 {
				t.Errorf("second segment moved to %v", got[1].Start)
			}
		})
	}
}

func TestCorrectOverlap(t *testing.T) {
	p := DefaultParams()

	t.Run("partial_overlap_clamped", func(t *testing.T) {
		segs := []Segment{
			{Index: 0, Start: 0, End: 2.5},
			{Index: 1, Start: 2.0, End: 4.0},
		}
		got, notes, err := Correct(segs, 0, p)
		if err != nil {
			t.Fatalf("Correct: %v", err)
		}
		if got[1].Start != 2.5 {
			t.Errorf("Start = %v, want 2.5", got[1].Start)
		}
		if got[1].GapBefore != 0 {
			t.Errorf("GapBefore = %v, want 0", got[1].GapBefore)
		}
		if got[1].SlotDuration != 1.5 {
			t.Errorf("SlotDuration = %v, want 1.5", got[1].SlotDuration)
		}
		if len(notes) != 1 || notes[0].Kind != KindOverlapClamped || notes[0].SegmentIndex != 1 {
			t.Errorf("notes = %v, want one overlap_clamped for segment 1", notes)
		}
	})

	t.Run("negative_first_start_clamped_to_track_start", func(t *testing.T) {
		segs := []Segment{
			{Index: 0, Start: -0.3, End: 1.0},
			{Index: 1, Start: 1.5, End: 2.0},
		}
		got, notes, err := Correct(segs, 0, p)
		if err != nil {
			t.Fatalf("Correct: %v", err)
		}
		if got[0].Start != 0 || got[0].SlotDuration != 1.0 {
			t.Errorf("segment 0 = [%v, %v) slot %v, want [0, 1) slot 1", got[0].Start, got[0].End, got[0].SlotDuration)
		}
		if len(notes) != 1 || notes[0].Kind != KindOverlapClamped || notes[0].SegmentIndex != 0 {
			t.Fatalf("notes = %v, want one overlap_clamped for segment 0", notes)
		}
		if !strings.Contains(notes[0].Detail, "track start") || strings.Contains(notes[0].Detail, "previous end") {
			t.Errorf("Detail = %q, want it to name the track start", notes[0].Detail)
		}
	})

	t.Run("contained_segment_gets_zero_slot", func(t *testing.T) {
		segs := []Segment{
			{Index: 0, Start: 0, End: 5},
			{Index: 1, Start: 1, End: 3},
			{Index: 2, Start: 6, End: 7},
		}
		got, _, err := Correct(segs, 0, p)
		if err != nil {
			t.Fatalf("Correct: %v", err)
		}
		if got[1].Start != 5 || got[1].End != 5 || got[1].SlotDuration != 0 {
			t.Errorf("segment 1 = [%v, %v) slot %v, want [5, 5) slot 0", got[1].Start, got[1].End, got[1].SlotDuration)
		}
		if got[2].GapBefore != 1 {
			t.Errorf("segment 2 GapBefore = %v, want 1", got[2].GapBefore)
		}
	})
}

func TestCorrectPreservesOrderAndGaps(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	p := DefaultParams()

	for trial := 0; trial < 50; trial++ {
		n := 1 + r.Intn(30)
		segs := make([]Segment, n)
		cursor := r.Float64()
		for i := range segs {
			start := cursor + (r.Float64()-0.4)*1.5
			if start < 0 {
				start = 0
			}
			end := start + 0.05 + r.Float64()*3
			segs[i] = Segment{Index: i * 10, Start: start, End: end}
			cursor = end
		}
		orig := append([]Segment(nil), segs...)

		got, _, err := Correct(segs, r.Float64()*2, p)
		if err != nil {
			t.Fatalf("trial %d: Correct: %v", trial, err)
		}
		if len(got) != n {
			t.Fatalf("trial %d: len = %d, want %d", trial, len(got), n)
		}
		prevEnd := 0.0
		for i, c := range got {
			if c.Index != segs[i].Index {
				t.Errorf("trial %d: position %d has index %d, want %d", trial, i, c.Index, segs[i].Index)
			}
			if c.GapBefore < 0 {
				t.Errorf("trial %d: segment %d GapBefore = %v", trial, c.Index, c.GapBefore)
			}
			if c.Start < prevEnd {
				t.Errorf("trial %d: segment %d starts %v before previous end %v", trial, c.Index, c.Start, prevEnd)
			}
			if c.SlotDuration < 0 || math.Abs(c.SlotDuration-(c.End-c.Start)) > 1e-12 {
				t.Errorf("trial %d: segment %d slot %v for [%v, %v)", trial, c.Index, c.SlotDuration, c.Start, c.End)
			}
			prevEnd = c.End
		}
		for i := range segs {
			if segs[i] != orig[i] {
				t.Fatalf("trial %d: input segment %d was modified", trial, i)
			}
		}
	}
}

func TestCorrectMalformed(t *testing.T) {
	tests := []struct {
		name string
		seg  Segment
	}{
		{"start_equals_end", Segment{Index: 3, Start: 1, End: 1}},
		{"start_after_end", Segment{Index: 3, Start: 2, End: 1}},
		{"nan", Segment{Index: 3, Start: math.NaN(), End: 1}},
		{"inf", Segment{Index: 3, Start: 0, End: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := []Segment{{Index: 0, Start: 0, End: 0.5}, tt.seg}
			got, _, err := Correct(segs, 0, DefaultParams())
			var mse *MalformedSegmentError
			if !errors.As(err, &mse) {
				t.Fatalf("err = %v, want MalformedSegmentError", err)
			}
			if mse.Index != 3 {
				t.Errorf("Index = %d, want 3", mse.Index)
			}
			if !IsFatal(err) {
				t.Error("IsFatal = false, want true")
			}
			if got != nil {
				t.Error("expected no output for malformed input")
			}
		})
	}
}
