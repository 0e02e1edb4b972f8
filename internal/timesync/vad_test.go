package timesync

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/snarg/dubsync/internal/audio"
)

const testRate = 16000

// tone returns a 220 Hz sine of the given length and amplitude.
func tone(rate int, seconds, amp float64) audio.Waveform {
	n := audio.SamplesFor(rate, seconds)
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(amp * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return audio.Waveform{SampleRate: rate, Samples: s}
}

// noise returns seeded uniform noise in [-amp, amp].
func noise(rate int, seconds, amp float64, seed int64) audio.Waveform {
	r := rand.New(rand.NewSource(seed))
	n := audio.SamplesFor(rate, seconds)
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(amp * (2*r.Float64() - 1))
	}
	return audio.Waveform{SampleRate: rate, Samples: s}
}

func concat(t *testing.T, parts ...audio.Waveform) audio.Waveform {
	t.Helper()
	w, err := audio.Concat(parts[0].SampleRate, parts...)
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	return w
}

// speechTrack is 0.8s of faint noise, then speech [0.8,1.8), a 0.2s dip,
// speech [2.0,3.0), 0.6s silence, speech [3.6,4.1), 0.3s silence.
func speechTrack(t *testing.T) audio.Waveform {
	return concat(t,
		noise(testRate, 0.8, 0.001, 1),
		tone(testRate, 1.0, 0.5),
		audio.Silence(testRate, 0.2),
		tone(testRate, 1.0, 0.5),
		audio.Silence(testRate, 0.6),
		tone(testRate, 0.5, 0.5),
		audio.Silence(testRate, 0.3),
	)
}

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestDetect(t *testing.T) {
	p := DefaultParams()

	t.Run("speech_after_leading_noise", func(t *testing.T) {
		det, err := Detect(speechTrack(t), p)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if !approx(det.SpeechStart, 0.8, 1e-6) {
			t.Errorf("SpeechStart = %v, want 0.8", det.SpeechStart)
		}
		want := []SpeechInterval{{0.8, 3.0}, {3.6, 4.1}}
		if len(det.Intervals) != len(want) {
			t.Fatalf("Intervals = %v, want %v", det.Intervals, want)
		}
		for i, iv := range want {
			got := det.Intervals[i]
			if !approx(got.Start, iv.Start, 1e-6) || !approx(got.End, iv.End, 1e-6) {
				t.Errorf("Intervals[%d] = %v, want %v", i, got, iv)
			}
		}
		if !approx(det.Total, 4.4, 1e-6) {
			t.Errorf("Total = %v, want 4.4", det.Total)
		}
	})

	t.Run("short_hold_time_splits_dip", func(t *testing.T) {
		q := p
		q.HoldTime = 0.1
		det, err := Detect(speechTrack(t), q)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(det.Intervals) != 3 {
			t.Errorf("len(Intervals) = %d, want 3: %v", len(det.Intervals), det.Intervals)
		}
	})

	t.Run("silence_is_no_speech", func(t *testing.T) {
		w := audio.Silence(testRate, 2.0)
		det, err := Detect(w, p)
		if !errors.Is(err, ErrNoSpeechDetected) {
			t.Fatalf("err = %v, want ErrNoSpeechDetected", err)
		}
		if det.SpeechStart != w.Duration() {
			t.Errorf("SpeechStart = %v, want total %v", det.SpeechStart, w.Duration())
		}
		if len(det.Intervals) != 0 {
			t.Errorf("Intervals = %v, want none", det.Intervals)
		}
	})

	t.Run("uniform_low_noise_is_no_speech", func(t *testing.T) {
		_, err := Detect(noise(testRate, 3.0, 0.002, 7), p)
		if !errors.Is(err, ErrNoSpeechDetected) {
			t.Errorf("err = %v, want ErrNoSpeechDetected", err)
		}
	})

	t.Run("loud_noise_is_one_interval", func(t *testing.T) {
		w := noise(testRate, 2.0, 0.8, 3)
		det, err := Detect(w, p)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(det.Intervals) != 1 {
			t.Fatalf("len(Intervals) = %d, want 1", len(det.Intervals))
		}
		if det.Intervals[0].Start != 0 || !approx(det.Intervals[0].End, 2.0, 1e-9) {
			t.Errorf("Intervals[0] = %v, want [0, 2)", det.Intervals[0])
		}
	})

	t.Run("click_shorter_than_min_speech_dropped", func(t *testing.T) {
		w := concat(t,
			audio.Silence(testRate, 1.0),
			tone(testRate, 0.01, 0.9),
			audio.Silence(testRate, 1.0),
		)
		_, err := Detect(w, p)
		if !errors.Is(err, ErrNoSpeechDetected) {
			t.Errorf("err = %v, want ErrNoSpeechDetected", err)
		}
	})

	t.Run("speech_from_first_frame", func(t *testing.T) {
		w := concat(t, tone(testRate, 1.0, 0.5), audio.Silence(testRate, 0.5))
		det, err := Detect(w, p)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if det.SpeechStart != 0 {
			t.Errorf("SpeechStart = %v, want 0", det.SpeechStart)
		}
	})

	t.Run("empty_waveform", func(t *testing.T) {
		det, err := Detect(audio.Waveform{SampleRate: testRate}, p)
		if !errors.Is(err, ErrNoSpeechDetected) {
			t.Errorf("err = %v, want ErrNoSpeechDetected", err)
		}
		if det.SpeechStart != 0 {
			t.Errorf("SpeechStart = %v, want 0", det.SpeechStart)
		}
	})
}

func TestSpeechCoverage(t *testing.T) {
	ivs := []SpeechInterval{{1, 2}, {3, 4}}
	tests := []struct {
		name       string
		start, end float64
		want       float64
	}{
		{"fully_inside", 1.2, 1.8, 1},
		{"half", 1.5, 2.5, 0.5},
		{"spanning_two", 1, 4, 2.0 / 3.0},
		{"outside", 2.2, 2.8, 0},
		{"zero_length_inside", 3.5, 3.5, 1},
		{"zero_length_outside", 2.5, 2.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SpeechCoverage(tt.start, tt.end, ivs); !approx(got, tt.want, 1e-9) {
				t.Errorf("SpeechCoverage(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}
