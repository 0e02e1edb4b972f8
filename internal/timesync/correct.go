package timesync

import (
	"fmt"
	"math"
)

// ValidateSegments rejects segments with start >= end or non-finite bounds.
func ValidateSegments(segments []Segment) error {
	for _, s := range segments {
		if math.IsNaN(s.Start) || math.IsNaN(s.End) || math.IsInf(s.Start, 0) || math.IsInf(s.End, 0) || s.Start >= s.End {
			return &MalformedSegmentError{Index: s.Index, Start: s.Start, End: s.End}
		}
	}
	return nil
}

// Correct reconciles transcription timestamps with the detected speech start.
//
// The first segment is moved onto speechStart when it begins more than
// LeadingTolerance earlier. Every segment start is then clamped so it never
// precedes the previous corrected end (the track start for the first one);
// the clamp can leave a zero-length slot. Order and indices are preserved and
// the input slice is not modified.
func Correct(segments []Segment, speechStart float64, p Params) ([]CorrectedSegment, []Annotation, error) {
	if err := ValidateSegments(segments); err != nil {
		return nil, nil, err
	}

	out := make([]CorrectedSegment, len(segments))
	var notes []Annotation
	prevEnd := 0.0

	for i, seg := range segments {
		c := CorrectedSegment{
			Segment:       seg,
			OriginalStart: seg.Start,
			OriginalEnd:   seg.End,
		}

		if i == 0 && seg.Start < speechStart-p.LeadingTolerance {
			c.Start = speechStart
			notes = append(notes, Annotation{
				Kind:         KindLeadingSilenceCorrected,
				SegmentIndex: seg.Index,
				Detail:       fmt.Sprintf("start %.3f moved to speech start %.3f", seg.Start, speechStart),
			})
		}

		if c.Start < prevEnd {
			detail := fmt.Sprintf("start %.3f clamped to previous end %.3f", c.Start, prevEnd)
			if i == 0 {
				detail = fmt.Sprintf("start %.3f clamped to track start", c.Start)
			}
			notes = append(notes, Annotation{
				Kind:         KindOverlapClamped,
				SegmentIndex: seg.Index,
				Detail:       detail,
			})
			c.Start = prevEnd
		}
		if c.End < c.Start {
			c.End = c.Start
		}

		c.GapBefore = max(0, c.Start-prevEnd)
		c.SlotDuration = c.End - c.Start
		prevEnd = c.End
		out[i] = c
	}
	return out, notes, nil
}
