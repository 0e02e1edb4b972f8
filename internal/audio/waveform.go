package audio

import (
	"fmt"
	"math"
)

// Waveform is a mono PCM signal with samples normalized to [-1, 1].
// Waveforms are treated as immutable once built: every transform in this
// module returns a new Waveform and never writes into its input.
type Waveform struct {
	SampleRate int
	Samples    []float32
}

// Len returns the number of samples.
func (w Waveform) Len() int { return len(w.Samples) }

// Duration returns the length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// IsZero reports whether the waveform has no samples.
func (w Waveform) IsZero() bool { return len(w.Samples) == 0 }

// SamplesFor converts a duration in seconds to a sample count at rate,
// rounding to the nearest sample. Negative durations yield 0.
func SamplesFor(rate int, seconds float64) int {
	if seconds <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Round(seconds * float64(rate)))
}

// Silence returns n seconds of digital silence.
func Silence(rate int, seconds float64) Waveform {
	return Waveform{SampleRate: rate, Samples: make([]float32, SamplesFor(rate, seconds))}
}

// Slice returns a copy of the samples between start and end seconds,
// clamped to the waveform bounds.
func (w Waveform) Slice(start, end float64) Waveform {
	lo := SamplesFor(w.SampleRate, start)
	hi := SamplesFor(w.SampleRate, end)
	if lo > len(w.Samples) {
		lo = len(w.Samples)
	}
	if hi > len(w.Samples) {
		hi = len(w.Samples)
	}
	if hi < lo {
		hi = lo
	}
	out := make([]float32, hi-lo)
	copy(out, w.Samples[lo:hi])
	return Waveform{SampleRate: w.SampleRate, Samples: out}
}

// Clone returns a deep copy.
func (w Waveform) Clone() Waveform {
	out := make([]float32, len(w.Samples))
	copy(out, w.Samples)
	return Waveform{SampleRate: w.SampleRate, Samples: out}
}

// Concat joins waveforms that share a sample rate.
func Concat(rate int, parts ...Waveform) (Waveform, error) {
	total := 0
	for i, p := range parts {
		if p.SampleRate != rate && len(p.Samples) > 0 {
			return Waveform{}, fmt.Errorf("part %d: sample rate %d, want %d", i, p.SampleRate, rate)
		}
		total += len(p.Samples)
	}
	out := make([]float32, 0, total)
	for _, p := range parts {
		out = append(out, p.Samples...)
	}
	return Waveform{SampleRate: rate, Samples: out}, nil
}

// Resample converts w to the target rate using linear interpolation.
// Returns a copy when the rates already match.
func Resample(w Waveform, rate int) Waveform {
	if w.SampleRate == rate || w.SampleRate <= 0 || rate <= 0 {
		c := w.Clone()
		if rate > 0 {
			c.SampleRate = rate
		}
		return c
	}
	n := int(math.Round(float64(len(w.Samples)) * float64(rate) / float64(w.SampleRate)))
	return Waveform{SampleRate: rate, Samples: Interpolate(w.Samples, n)}
}

// Interpolate linearly maps in onto n output samples, keeping the first and
// last sample aligned.
func Interpolate(in []float32, n int) []float32 {
	out := make([]float32, n)
	if n == 0 || len(in) == 0 {
		return out
	}
	if len(in) == 1 || n == 1 {
		for i := range out {
			out[i] = in[0]
		}
		return out
	}
	step := float64(len(in)-1) / float64(n-1)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// RMS returns the root-mean-square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
