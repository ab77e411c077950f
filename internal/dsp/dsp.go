// Package dsp holds the small set of signal-processing primitives the voice
// matcher needs: Fourier resampling, autocorrelation, Welch PSD estimation and
// a first-order IIR low-pass.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Resample changes x to num samples with the Fourier method: the spectrum is
// truncated or zero-padded to the new length and transformed back. The
// Nyquist bin is split or joined the same way scipy.signal.resample does it.
// Any pair of lengths runs in O(n log n).
func Resample(x []float64, num int) []float64 {
	if num <= 0 {
		return []float64{}
	}
	nx := len(x)
	if nx == 0 {
		return make([]float64, num)
	}
	if num == nx {
		out := make([]float64, nx)
		copy(out, x)
		return out
	}

	coeffs := realCoefficients(x)
	resized := make([]complex128, num/2+1)

	n := min(num, nx)
	nyq := n/2 + 1
	copy(resized[:nyq], coeffs[:nyq])
	if n%2 == 0 {
		switch {
		case num < nx:
			resized[n/2] *= 2
		case nx < num:
			resized[n/2] *= 0.5
		}
	}

	y := realSequence(resized, num)
	// The inverse is unnormalized (x num); the amplitude rescale is num/nx.
	scale := 1 / float64(nx)
	for i := range y {
		y[i] *= scale
	}
	return y
}

// Autocorrelate returns the non-negative lags (0..len(x)-1) of the full
// linear autocorrelation of x, computed through a zero-padded FFT.
func Autocorrelate(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	size := 1
	for size < 2*n-1 {
		size <<= 1
	}
	padded := make([]float64, size)
	copy(padded, x)

	fft := fourier.NewFFT(size)
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	full := fft.Sequence(nil, coeff)

	out := make([]float64, n)
	inv := 1 / float64(size)
	for i := range out {
		out[i] = full[i] * inv
	}
	return out
}

// Welch estimates the one-sided power spectral density of x using Welch's
// method with scipy's defaults: periodic Hann window, 256-sample segments
// (or the whole signal when shorter), 50% overlap, per-segment mean removal
// and density scaling. It returns the bin frequencies and the PSD.
func Welch(x []float64, fs float64) (freqs, psd []float64) {
	n := len(x)
	if n == 0 || fs <= 0 {
		return []float64{0}, []float64{0}
	}
	nperseg := 256
	if n < nperseg {
		nperseg = n
	}
	step := nperseg - nperseg/2
	win := hann(nperseg)

	var winPow float64
	for _, w := range win {
		winPow += w * w
	}

	bins := nperseg/2 + 1
	psd = make([]float64, bins)
	freqs = make([]float64, bins)
	for k := range freqs {
		freqs[k] = float64(k) * fs / float64(nperseg)
	}
	if winPow == 0 {
		return freqs, psd
	}

	fft := fourier.NewFFT(nperseg)
	seg := make([]float64, nperseg)
	coeff := make([]complex128, bins)
	segments := 0
	for start := 0; start+nperseg <= n; start += step {
		mean := Mean(x[start : start+nperseg])
		for i := range seg {
			seg[i] = (x[start+i] - mean) * win[i]
		}
		coeff = fft.Coefficients(coeff, seg)
		for k, c := range coeff {
			psd[k] += real(c)*real(c) + imag(c)*imag(c)
		}
		segments++
	}

	scale := 1 / (fs * winPow * float64(segments))
	for k := range psd {
		psd[k] *= scale
		// Fold negative frequencies in, except DC and an even-length Nyquist.
		if k != 0 && !(nperseg%2 == 0 && k == bins-1) {
			psd[k] *= 2
		}
	}
	return freqs, psd
}

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Butter1Lowpass designs a first-order Butterworth low-pass filter. wn is the
// cutoff normalized to Nyquist (0 < wn < 1). The coefficients come from the
// bilinear transform with frequency pre-warping.
func Butter1Lowpass(wn float64) (b, a [2]float64) {
	k := math.Tan(math.Pi * wn / 2)
	g := k / (1 + k)
	b = [2]float64{g, g}
	a = [2]float64{1, (k - 1) / (k + 1)}
	return b, a
}

// LFilter runs a first-order direct-form IIR filter over x with zero initial
// state. a[0] must be 1.
func LFilter(b, a [2]float64, x []float64) []float64 {
	y := make([]float64, len(x))
	var prevX, prevY float64
	for i, v := range x {
		out := b[0]*v + b[1]*prevX - a[1]*prevY
		y[i] = out
		prevX, prevY = v, out
	}
	return y
}

// Mean returns the arithmetic mean of x, or 0 for an empty slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// RMS returns the root-mean-square amplitude of x, or 0 for an empty slice.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

// Peak returns the largest absolute sample value.
func Peak(x []float64) float64 {
	var peak float64
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}
