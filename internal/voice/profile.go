// Package voice approximates a speaker's timbre from signal statistics and
// reshapes synthesized speech toward it.
package voice

import (
	"errors"
	"fmt"

	"github.com/jonatasu/dubby/internal/audio"
	"github.com/jonatasu/dubby/internal/dsp"
)

// Plausible vocal fundamental range searched by EstimatePitch.
const (
	MinPitchHz = 70
	MaxPitchHz = 400
)

// ErrSilent is returned by Analyze when the reference carries no energy.
var ErrSilent = errors.New("reference signal is silent")

// Profile is a lightweight timbre fingerprint. PitchHz is 0 when no reliable
// fundamental was found.
type Profile struct {
	PitchHz            float64 `json:"pitch_hz"`
	EnergyRMS          float64 `json:"energy_rms"`
	SpectralCentroidHz float64 `json:"spectral_centroid_hz"`
}

// EstimatePitch returns the fundamental frequency of samples by picking the
// strongest autocorrelation lag within the 70-400 Hz window. It returns 0 when
// the window is empty or the signal is flat.
func EstimatePitch(samples []float64, sampleRate int) float64 {
	if len(samples) == 0 || sampleRate <= 0 {
		return 0
	}
	mean := dsp.Mean(samples)
	centered := make([]float64, len(samples))
	for i, v := range samples {
		centered[i] = v - mean
	}
	corr := dsp.Autocorrelate(centered)
	// Flat signal: every lag ties and there is no fundamental to pick.
	if corr[0] <= 1e-12 {
		return 0
	}

	minLag := sampleRate / MaxPitchHz
	maxLag := sampleRate / MinPitchHz
	if maxLag >= len(corr) {
		maxLag = len(corr) - 1
	}
	if minLag >= maxLag {
		return 0
	}

	best := minLag
	for lag := minLag + 1; lag < maxLag; lag++ {
		if corr[lag] > corr[best] {
			best = lag
		}
	}
	if best == 0 {
		return 0
	}
	return float64(sampleRate) / float64(best)
}

// SpectralCentroid returns the power-weighted mean frequency of samples from a
// Welch PSD estimate, or 0 when the signal has no power.
func SpectralCentroid(samples []float64, sampleRate int) float64 {
	freqs, psd := dsp.Welch(samples, float64(sampleRate))
	var weighted, total float64
	for k := range psd {
		weighted += freqs[k] * psd[k]
		total += psd[k]
	}
	if total <= 0 {
		return 0
	}
	return weighted / total
}

// Analyze extracts a Profile from samples. A silent or empty signal yields the
// zero Profile together with ErrSilent.
func Analyze(samples []float64, sampleRate int) (Profile, error) {
	if sampleRate <= 0 {
		return Profile{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	p := Profile{
		PitchHz:   EstimatePitch(samples, sampleRate),
		EnergyRMS: dsp.RMS(samples),
	}
	if p.EnergyRMS == 0 {
		return p, ErrSilent
	}
	p.SpectralCentroidHz = SpectralCentroid(samples, sampleRate)
	return p, nil
}

// AnalyzeFile loads a WAV reference, mixes it to mono at sampleRate and
// analyzes it.
func AnalyzeFile(path string, sampleRate int) (Profile, error) {
	sig, err := audio.LoadMono(path, sampleRate)
	if err != nil {
		return Profile{}, fmt.Errorf("load reference: %w", err)
	}
	return Analyze(sig.Samples, sig.SampleRate)
}
