package timesync

import (
	"errors"
	"fmt"
	"time"
)

// Params holds the tuning knobs for one synchronization run. The zero value
// is not usable; start from DefaultParams and override what you need.
type Params struct {
	// LeadingTolerance is how far before the detected speech start the first
	// segment may begin before it is moved onto the speech start.
	LeadingTolerance float64

	// HoldTime bridges silence gaps shorter than this between speech frames.
	HoldTime float64

	// MinSpeech drops detected intervals shorter than this (clicks, pops).
	MinSpeech float64

	// MinRatio and MaxRatio bound the time-stretch ratio (output/input).
	MinRatio float64
	MaxRatio float64

	// PassBand is the relative tolerance within which a clip is left untouched.
	PassBand float64

	// Frame is the VAD analysis frame width.
	Frame time.Duration

	// NoiseFrames is how many leading frames feed the noise-floor estimate.
	NoiseFrames int

	// ThresholdFactor multiplies the noise floor to get the speech threshold,
	// which is then clamped to [MinThreshold, MaxThreshold] (linear RMS).
	ThresholdFactor float64
	MinThreshold    float64
	MaxThreshold    float64

	// StretchWindow is the WSOLA analysis window.
	StretchWindow time.Duration
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		LeadingTolerance: 0.5,
		HoldTime:         0.3,
		MinSpeech:        0.05,
		MinRatio:         0.5,
		MaxRatio:         2.0,
		PassBand:         0.05,
		Frame:            25 * time.Millisecond,
		NoiseFrames:      20,
		ThresholdFactor:  3.0,
		MinThreshold:     0.005,
		MaxThreshold:     0.05,
		StretchWindow:    40 * time.Millisecond,
	}
}

// Validate reports inconsistent parameter combinations.
func (p Params) Validate() error {
	var errs []error
	if p.LeadingTolerance < 0 {
		errs = append(errs, fmt.Errorf("leading tolerance %v must be >= 0", p.LeadingTolerance))
	}
	if p.HoldTime < 0 {
		errs = append(errs, fmt.Errorf("hold time %v must be >= 0", p.HoldTime))
	}
	if p.MinRatio <= 0 || p.MaxRatio <= 0 {
		errs = append(errs, fmt.Errorf("stretch ratio bounds must be positive (min=%v max=%v)", p.MinRatio, p.MaxRatio))
	} else if p.MinRatio > 1 || p.MaxRatio < 1 || p.MinRatio > p.MaxRatio {
		errs = append(errs, fmt.Errorf("stretch ratio bounds must satisfy min <= 1 <= max (min=%v max=%v)", p.MinRatio, p.MaxRatio))
	}
	if p.PassBand < 0 || p.PassBand >= 1 {
		errs = append(errs, fmt.Errorf("pass band %v must be in [0, 1)", p.PassBand))
	}
	if p.Frame <= 0 {
		errs = append(errs, fmt.Errorf("frame %v must be positive", p.Frame))
	}
	if p.NoiseFrames < 1 {
		errs = append(errs, fmt.Errorf("noise frames %d must be >= 1", p.NoiseFrames))
	}
	if p.MinThreshold < 0 || p.MaxThreshold < p.MinThreshold {
		errs = append(errs, fmt.Errorf("threshold bounds invalid (min=%v max=%v)", p.MinThreshold, p.MaxThreshold))
	}
	if p.StretchWindow <= 0 {
		errs = append(errs, fmt.Errorf("stretch window %v must be positive", p.StretchWindow))
	}
	return errors.Join(errs...)
}
