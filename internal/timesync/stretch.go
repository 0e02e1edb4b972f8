package timesync

import (
	"math"

	"github.com/snarg/dubsync/internal/audio"
)

// Stretch changes the duration of samples by ratio (output length / input
// length) without changing pitch, using waveform-similarity overlap-add
// (WSOLA). window is the analysis frame in samples. The result always has
// exactly round(len(samples)*ratio) samples.
//
// Inputs shorter than two windows are too short to overlap-add and are
// linearly resampled instead.
func Stretch(samples []float32, ratio float64, window int) []float32 {
	outLen := int(math.Round(float64(len(samples)) * ratio))
	if outLen <= 0 {
		return []float32{}
	}
	if outLen == len(samples) {
		out := make([]float32, outLen)
		copy(out, samples)
		return out
	}
	if window < 8 || len(samples) < 2*window {
		return audio.Interpolate(samples, outLen)
	}

	hop := window / 2
	tolerance := hop / 2
	analysisHop := float64(hop) / ratio
	win := hann(window)
	maxPos := len(samples) - window

	acc := make([]float64, outLen+window)
	norm := make([]float64, outLen+window)

	prev := -1
	for k := 0; k*hop < outLen; k++ {
		nominal := int(math.Round(float64(k) * analysisHop))
		pos := clampInt(nominal, 0, maxPos)
		if prev >= 0 {
			pos = bestMatch(samples, clampInt(prev+hop, 0, maxPos), nominal, tolerance, window, maxPos)
		}

		base := k * hop
		for i := 0; i < window; i++ {
			acc[base+i] += float64(samples[pos+i]) * win[i]
			norm[base+i] += win[i]
		}
		prev = pos
	}

	out := make([]float32, outLen)
	for i := range out {
		if norm[i] > 1e-9 {
			out[i] = float32(acc[i] / norm[i])
		}
	}
	return out
}

// bestMatch searches [nominal-tol, nominal+tol] for the frame whose shape
// best continues the frame at target.
func bestMatch(samples []float32, target, nominal, tol, window, maxPos int) int {
	lo := clampInt(nominal-tol, 0, maxPos)
	hi := clampInt(nominal+tol, 0, maxPos)
	stride := max(1, window/256)

	best := clampInt(nominal, 0, maxPos)
	bestScore := math.Inf(-1)
	for c := lo; c <= hi; c += 2 {
		var dot, energy float64
		for i := 0; i < window; i += stride {
			a := float64(samples[target+i])
			b := float64(samples[c+i])
			dot += a * b
			energy += b * b
		}
		score := dot
		if energy > 0 {
			score = dot / math.Sqrt(energy)
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
