package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTPACK runs in O(n·p) for a length with a prime factor p above 5, which
// turns quadratic for prime lengths. Such lengths go through Bluestein's
// chirp-z transform on a power-of-two FFT instead.

// smooth reports whether n has no prime factor other than 2, 3 and 5.
func smooth(n int) bool {
	if n <= 0 {
		return false
	}
	for _, p := range []int{2, 3, 5} {
		for n%p == 0 {
			n /= p
		}
	}
	return n == 1
}

// realCoefficients returns the n/2+1 non-negative frequency coefficients of
// x, unnormalized, as fourier.FFT.Coefficients does.
func realCoefficients(x []float64) []complex128 {
	n := len(x)
	if smooth(n) {
		return fourier.NewFFT(n).Coefficients(nil, x)
	}
	seq := make([]complex128, n)
	for i, v := range x {
		seq[i] = complex(v, 0)
	}
	return bluestein(seq, false)[:n/2+1]
}

// realSequence is the unnormalized inverse of realCoefficients for a real
// sequence of length n. coeffs must hold n/2+1 values.
func realSequence(coeffs []complex128, n int) []float64 {
	if smooth(n) {
		return fourier.NewFFT(n).Sequence(nil, coeffs)
	}
	full := make([]complex128, n)
	copy(full, coeffs[:n/2+1])
	for k := 1; k < (n+1)/2; k++ {
		full[n-k] = cmplx.Conj(coeffs[k])
	}
	seq := bluestein(full, true)
	out := make([]float64, n)
	for i, c := range seq {
		out[i] = real(c)
	}
	return out
}

// bluestein computes the unnormalized DFT of x (the inverse DFT when inverse
// is set) for any length, as a circular convolution with a chirp carried out
// on power-of-two FFTs.
func bluestein(x []complex128, inverse bool) []complex128 {
	n := len(x)
	if n == 0 {
		return nil
	}
	m := 1
	for m < 2*n-1 {
		m <<= 1
	}
	sign := -1.0
	if inverse {
		sign = 1
	}

	// chirp[k] = exp(sign·iπk²/n); k² is reduced mod 2n to keep the angle exact.
	chirp := make([]complex128, n)
	period := int64(2 * n)
	for k := range chirp {
		kk := int64(k) * int64(k) % period
		chirp[k] = cmplx.Rect(1, sign*math.Pi*float64(kk)/float64(n))
	}

	a := make([]complex128, m)
	for k, v := range x {
		a[k] = v * chirp[k]
	}
	b := make([]complex128, m)
	b[0] = cmplx.Conj(chirp[0])
	for k := 1; k < n; k++ {
		c := cmplx.Conj(chirp[k])
		b[k] = c
		b[m-k] = c
	}

	fft := fourier.NewCmplxFFT(m)
	fa := fft.Coefficients(nil, a)
	fb := fft.Coefficients(nil, b)
	for i := range fa {
		fa[i] *= fb[i]
	}
	conv := fft.Sequence(nil, fa)

	out := make([]complex128, n)
	scale := complex(1/float64(m), 0)
	for k := range out {
		out[k] = conv[k] * scale * chirp[k]
	}
	return out
}
