package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// ErrSignalTooShort is returned by FiltFilt when the input is not longer than
// the edge padding the filter needs.
var ErrSignalTooShort = errors.New("signal shorter than filter padding")

// IIRFilter is a digital filter in transfer function form. A is normalized so
// that A[0] == 1.
type IIRFilter struct {
	B []float64 // Numerator coefficients
	A []float64 // Denominator coefficients
}

// Butterworth designs a digital low-pass Butterworth filter of the given order.
// wn is the cutoff as a fraction of the Nyquist rate, in the open range (0, 1).
//
// The design is the analog prototype scaled to the pre-warped cutoff and
// mapped with the bilinear transform, which yields the same coefficients as
// the classic butter(order, wn) design.
func Butterworth(order int, wn float64) (IIRFilter, error) {
	if order < 1 {
		return IIRFilter{}, fmt.Errorf("invalid filter order: %d", order)
	}
	if wn <= 0 || wn >= 1 {
		return IIRFilter{}, fmt.Errorf("cutoff must be between 0 and 1: %f given", wn)
	}

	const fs = 2.0
	warped := 2 * fs * math.Tan(math.Pi*wn/fs)

	// Analog prototype poles on the left half of the unit circle, scaled to
	// the warped cutoff. The prototype has no zeros.
	poles := make([]complex128, order)
	for i := range poles {
		m := float64(-order + 1 + 2*i)
		poles[i] = -cmplx.Exp(complex(0, math.Pi*m/float64(2*order))) * complex(warped, 0)
	}
	gain := math.Pow(warped, float64(order))

	// Bilinear transform. Every analog zero at infinity maps to z = -1.
	const fs2 = 2 * fs
	zPoles := make([]complex128, order)
	zZeros := make([]complex128, order)
	den := complex(1, 0)
	for i, p := range poles {
		zPoles[i] = (fs2 + p) / (fs2 - p)
		zZeros[i] = -1
		den *= fs2 - p
	}
	gain *= real(1 / den)

	b := realPoly(zZeros)
	for i := range b {
		b[i] *= gain
	}

	return IIRFilter{B: b, A: realPoly(zPoles)}, nil
}

// realPoly expands the monic polynomial with the given roots and returns the
// real part of its coefficients, highest power first.
func realPoly(roots []complex128) []float64 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}

	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c)
	}
	return out
}

// order returns the number of delay elements of the filter.
func (f IIRFilter) order() int {
	return max(len(f.A), len(f.B)) - 1
}

// padded returns B and A normalized by A[0] and zero-extended to equal length.
func (f IIRFilter) padded() (b, a []float64) {
	n := f.order() + 1
	b = make([]float64, n)
	a = make([]float64, n)
	copy(b, f.B)
	copy(a, f.A)

	if a0 := a[0]; a0 != 1 {
		for i := range a {
			a[i] /= a0
			b[i] /= a0
		}
	}
	return b, a
}

// Filter runs x through the filter once using the transposed direct form II
// structure. zi holds the initial delay state and may be nil for a filter at
// rest. The returned slice has the same length as x.
func (f IIRFilter) Filter(x, zi []float64) []float64 {
	b, a := f.padded()
	n := len(b) - 1

	z := make([]float64, n)
	copy(z, zi)

	y := make([]float64, len(x))
	for k, xk := range x {
		yk := b[0]*xk + safeIndex(z, 0)
		for i := 0; i < n-1; i++ {
			z[i] = b[i+1]*xk + z[i+1] - a[i+1]*yk
		}
		if n > 0 {
			z[n-1] = b[n]*xk - a[n]*yk
		}
		y[k] = yk
	}
	return y
}

func safeIndex(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// SteadyState returns the delay state corresponding to the steady-state
// response of the filter to a unit step input.
func (f IIRFilter) SteadyState() ([]float64, error) {
	b, a := f.padded()
	n := len(b) - 1
	if n == 0 {
		return []float64{}, nil
	}

	// (I - companion(a)^T) zi = b[1:] - a[1:]*b[0]
	m := mat.NewDense(n, n, nil)
	for r := 0; r < n; r++ {
		m.Set(r, 0, a[r+1])
		if r+1 < n {
			m.Set(r, r+1, -1)
		}
		m.Set(r, r, m.At(r, r)+1)
	}

	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		rhs.SetVec(i, b[i+1]-a[i+1]*b[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("solving initial conditions: %w", err)
	}
	return zi.RawVector().Data, nil
}

// PadLen returns the number of samples FiltFilt extends each edge by.
func (f IIRFilter) PadLen() int {
	return 3 * max(len(f.A), len(f.B))
}

// FiltFilt applies the filter forward and then backward, which cancels the
// phase shift of a single pass. Edges are extended by odd reflection and both
// passes start from the steady state scaled to the first sample, so the output
// does not ring at the ends.
func (f IIRFilter) FiltFilt(x []float64) ([]float64, error) {
	padLen := f.PadLen()
	if len(x) <= padLen {
		return nil, fmt.Errorf("%w: length %d, padding %d", ErrSignalTooShort, len(x), padLen)
	}

	zi, err := f.SteadyState()
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, padLen)

	y := f.Filter(ext, scaled(zi, ext[0]))
	reverse(y)
	y = f.Filter(y, scaled(zi, y[0]))
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[padLen:padLen+len(x)])
	return out, nil
}

func oddExtend(x []float64, n int) []float64 {
	last := len(x) - 1
	ext := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= n; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}
	return ext
}

func scaled(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * s
	}
	return out
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
