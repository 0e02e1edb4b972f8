package timesync

import (
	"github.com/snarg/dubsync/internal/audio"
)

// Detection is the result of voice activity analysis over a whole track.
type Detection struct {
	// SpeechStart is the start of the first interval, or Total when no
	// speech was found.
	SpeechStart float64          `json:"speech_start"`
	Intervals   []SpeechInterval `json:"intervals"`
	Total       float64          `json:"total"`
	NoiseFloor  float64          `json:"noise_floor"`
	Threshold   float64          `json:"threshold"`
}

// Detect classifies fixed-width frames of w as speech or silence using an
// energy threshold adapted to the noise floor of the first frames, then
// merges speech frames into intervals.
//
// When nothing exceeds the threshold it returns ErrNoSpeechDetected together
// with a Detection whose SpeechStart equals the total duration.
func Detect(w audio.Waveform, p Params) (Detection, error) {
	total := w.Duration()
	det := Detection{SpeechStart: total, Total: total}
	if w.Len() == 0 || w.SampleRate <= 0 {
		return det, ErrNoSpeechDetected
	}

	frameLen := audio.SamplesFor(w.SampleRate, p.Frame.Seconds())
	if frameLen < 1 {
		frameLen = 1
	}
	nFrames := (w.Len() + frameLen - 1) / frameLen

	energy := make([]float64, nFrames)
	for i := range energy {
		lo := i * frameLen
		hi := min(lo+frameLen, w.Len())
		energy[i] = audio.RMS(w.Samples[lo:hi])
	}

	n := min(p.NoiseFrames, nFrames)
	var floor float64
	for _, e := range energy[:n] {
		floor += e
	}
	floor /= float64(n)

	threshold := floor * p.ThresholdFactor
	if threshold < p.MinThreshold {
		threshold = p.MinThreshold
	}
	if threshold > p.MaxThreshold {
		threshold = p.MaxThreshold
	}
	det.NoiseFloor = floor
	det.Threshold = threshold

	frameSec := float64(frameLen) / float64(w.SampleRate)
	toSec := func(frame int) float64 {
		return min(float64(frame)*frameSec, total)
	}

	var raw []SpeechInterval
	start := -1
	for i, e := range energy {
		switch {
		case e > threshold && start < 0:
			start = i
		case e <= threshold && start >= 0:
			raw = append(raw, SpeechInterval{Start: toSec(start), End: toSec(i)})
			start = -1
		}
	}
	if start >= 0 {
		raw = append(raw, SpeechInterval{Start: toSec(start), End: total})
	}

	for _, iv := range bridgeGaps(raw, p.HoldTime) {
		if iv.Duration() < p.MinSpeech {
			continue
		}
		det.Intervals = append(det.Intervals, iv)
	}
	if len(det.Intervals) == 0 {
		return det, ErrNoSpeechDetected
	}
	det.SpeechStart = det.Intervals[0].Start
	return det, nil
}

// bridgeGaps merges ordered intervals separated by less than hold seconds.
func bridgeGaps(in []SpeechInterval, hold float64) []SpeechInterval {
	if len(in) == 0 {
		return nil
	}
	out := []SpeechInterval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if iv.Start-last.End < hold {
			last.End = iv.End
			continue
		}
		out = append(out, iv)
	}
	return out
}

// SpeechCoverage returns the fraction of [start, end) covered by intervals.
// A zero-length span returns 1 if it falls inside an interval, else 0.
func SpeechCoverage(start, end float64, intervals []SpeechInterval) float64 {
	if end <= start {
		for _, iv := range intervals {
			if start >= iv.Start && start < iv.End {
				return 1
			}
		}
		return 0
	}
	var covered float64
	for _, iv := range intervals {
		lo := max(start, iv.Start)
		hi := min(end, iv.End)
		if hi > lo {
			covered += hi - lo
		}
	}
	return covered / (end - start)
}
