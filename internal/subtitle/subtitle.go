// Package subtitle renders SRT and WebVTT files from an assembly manifest,
// so cue times follow where each dubbed clip actually plays.
package subtitle

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/snarg/dubsync/internal/timesync"
)

// Cue is one timed subtitle line.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Cues pairs manifest placements with texts keyed by segment index.
// Zero-length placements and blank texts produce no cue.
func Cues(m timesync.Manifest, texts map[int]string) []Cue {
	cues := make([]Cue, 0, len(m.Entries))
	for _, e := range m.Entries {
		text := strings.TrimSpace(texts[e.SegmentIndex])
		if text == "" || e.EndSample <= e.StartSample {
			continue
		}
		cues = append(cues, Cue{Start: e.ActualStart, End: e.ActualEnd, Text: text})
	}
	return cues
}

// WriteSRT writes cues in SubRip format with 1-based cue numbers.
func WriteSRT(w io.Writer, cues []Cue) error {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, timestamp(c.Start, ','), timestamp(c.End, ','), c.Text)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteVTT writes cues in WebVTT format.
func WriteVTT(w io.Writer, cues []Cue) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", timestamp(c.Start, '.'), timestamp(c.End, '.'), c.Text)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// timestamp formats seconds as HH:MM:SS<sep>mmm.
func timestamp(sec float64, sep byte) string {
	ms := int64(math.Round(max(sec, 0) * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}
