package voice

import (
	"math"

	"github.com/jonatasu/dubby/internal/dsp"
)

const (
	// Profiles with a pitch at or below this are not worth shifting toward.
	minTargetPitchHz = 50
	// Shift ratios outside (minRatio, maxRatio) or within minRatioDelta of 1
	// are skipped.
	minRatio      = 0.5
	maxRatio      = 2.0
	minRatioDelta = 0.02

	minCutoff = 0.01
	maxCutoff = 0.49

	targetPeak = 0.9
)

// ApplyOptions controls how strongly a Profile is imposed. Both strengths are
// clamped to [0, 1].
type ApplyOptions struct {
	PitchStrength   float64
	FormantStrength float64
}

// DefaultApplyOptions returns the strengths used when none are configured.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{PitchStrength: 0.6, FormantStrength: 0.5}
}

// Apply reshapes samples toward p: an approximate pitch shift, a single-pole
// brightness adjustment and peak normalization to 0.9. The result is a new
// slice with exactly len(samples) samples; samples is not modified.
func Apply(samples []float64, sampleRate int, p Profile, opts ApplyOptions) []float64 {
	n := len(samples)
	if n == 0 {
		return []float64{}
	}
	out := make([]float64, n)
	copy(out, samples)

	if p.PitchHz > minTargetPitchHz {
		if shifted, ok := shiftPitch(out, sampleRate, p.PitchHz, clamp01(opts.PitchStrength)); ok {
			out = shifted
		}
	}
	if p.SpectralCentroidHz > 0 && sampleRate > 0 {
		out = shapeBrightness(out, sampleRate, p.SpectralCentroidHz, clamp01(opts.FormantStrength))
	}
	normalizePeak(out, targetPeak)
	return fitLength(out, n)
}

// pitchRatio returns the blended shift ratio toward targetHz and whether it
// passes the guard.
func pitchRatio(currentHz, targetHz, strength float64) (float64, bool) {
	if currentHz <= 0 {
		return 1, false
	}
	raw := targetHz / currentHz
	ratio := 1 + (raw-1)*strength
	if ratio <= minRatio || ratio >= maxRatio || math.Abs(ratio-1) <= minRatioDelta {
		return ratio, false
	}
	return ratio, true
}

// shiftPitch compresses or stretches the signal by ratio and resamples it back
// to its original duration. Formants move with the pitch; that is a known
// artifact of the method. It reports false when the guard rejects the shift.
func shiftPitch(samples []float64, sampleRate int, targetHz, strength float64) ([]float64, bool) {
	current := EstimatePitch(samples, sampleRate)
	ratio, ok := pitchRatio(current, targetHz, strength)
	if !ok {
		return samples, false
	}
	n := len(samples)
	squeezed := dsp.Resample(samples, int(float64(n)/ratio))
	restored := dsp.Resample(squeezed, int(float64(len(squeezed))*ratio))
	return fitLength(restored, n), true
}

// shapeBrightness blends the signal with a first-order low-pass copy whose
// cutoff tracks the target centroid.
func shapeBrightness(samples []float64, sampleRate int, centroidHz, strength float64) []float64 {
	cutoff := centroidHz / (float64(sampleRate) / 2)
	cutoff = math.Min(maxCutoff, math.Max(minCutoff, cutoff))
	b, a := dsp.Butter1Lowpass(cutoff)
	filtered := dsp.LFilter(b, a, samples)
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = (1-strength)*samples[i] + strength*filtered[i]
	}
	return out
}

// normalizePeak scales x in place so its peak magnitude is target.
func normalizePeak(x []float64, target float64) {
	peak := dsp.Peak(x)
	if peak == 0 || math.IsNaN(peak) || math.IsInf(peak, 0) {
		return
	}
	scale := target / peak
	for i := range x {
		x[i] *= scale
	}
}

// fitLength truncates or zero-pads x to exactly n samples.
func fitLength(x []float64, n int) []float64 {
	if len(x) == n {
		return x
	}
	if len(x) > n {
		return x[:n]
	}
	out := make([]float64, n)
	copy(out, x)
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
