package dsp

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/geeknik/rtl-sdr-analyzer/internal/spectrum"
)

const (
	// FilterOrder is the order of the smoothing filter.
	FilterOrder = 4

	// CutoffRatio is the smoothing cutoff as a fraction of the Nyquist rate.
	// The Nyquist rate is taken as half the FFT size, so the cutoff does not
	// depend on the sample rate.
	CutoffRatio = 0.1

	// epsilon keeps log10 finite for empty bins.
	epsilon = 1e-12
)

// WithLogger sets the logger for the processor
func WithLogger(logger *slog.Logger) func(p *Processor) {
	return func(p *Processor) {
		p.logger = logger.With(slog.String("component", "dsp"))
	}
}

// Processor turns fixed-size blocks of IQ samples into smoothed power spectra.
// It keeps no state between blocks besides scratch buffers, so a Processor must
// not be shared between goroutines.
type Processor struct {
	fftSize    int
	sampleRate float64

	filter IIRFilter
	fft    *fourier.CmplxFFT

	centered []complex128
	coeffs   []complex128

	logger *slog.Logger
}

// NewProcessor creates a Processor for blocks of fftSize samples and designs
// its smoothing filter.
func NewProcessor(fftSize int, sampleRate float64, options ...func(p *Processor)) (*Processor, error) {
	if fftSize <= 0 {
		return nil, fmt.Errorf("invalid FFT size: %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %f", sampleRate)
	}

	nyquist := 0.5 * float64(fftSize)
	cutoff := CutoffRatio * nyquist

	filter, err := Butterworth(FilterOrder, cutoff/nyquist)
	if err != nil {
		return nil, fmt.Errorf("designing smoothing filter: %w", err)
	}
	if fftSize <= filter.PadLen() {
		return nil, fmt.Errorf("FFT size %d too small for smoothing, must exceed %d", fftSize, filter.PadLen())
	}

	p := Processor{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		filter:     filter,
		fft:        fourier.NewCmplxFFT(fftSize),
		centered:   make([]complex128, fftSize),
		coeffs:     make([]complex128, fftSize),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p, nil
}

// FFTSize returns the number of samples per block.
func (p *Processor) FFTSize() int {
	return p.fftSize
}

// Filter returns the smoothing filter applied to every spectrum.
func (p *Processor) Filter() IIRFilter {
	return p.filter
}

// ProcessSamples converts one block of IQ samples into a power spectrum in dB.
// The DC offset of the block is removed, the spectrum is shifted so that the
// zero frequency sits in the middle, and the result is smoothed with the
// zero-phase low-pass filter. The input is not modified.
//
// A nil result means the block could not be processed and should be skipped.
func (p *Processor) ProcessSamples(iq []complex128) []float64 {
	if len(iq) != p.fftSize {
		p.logger.Debug("skipping block with unexpected size",
			slog.Int("size", len(iq)), slog.Int("expected", p.fftSize))
		return nil
	}

	var mean complex128
	for _, v := range iq {
		mean += v
	}
	mean /= complex(float64(len(iq)), 0)

	for i, v := range iq {
		p.centered[i] = v - mean
	}

	p.coeffs = p.fft.Coefficients(p.coeffs, p.centered)

	power := make([]float64, p.fftSize)
	half := p.fftSize / 2
	for i, c := range p.coeffs {
		power[(i+half)%p.fftSize] = 20 * math.Log10(cmplx.Abs(c)+epsilon)
	}

	smooth, err := p.filter.FiltFilt(power)
	if err != nil {
		p.logger.Error(fmt.Sprintf("error processing samples: %s", err.Error()))
		return nil
	}

	return smooth
}

// SignalMetrics derives scalar diagnostics from a power spectrum. The second
// return value is false when the metrics cannot be computed, which is never
// fatal to the caller.
func (p *Processor) SignalMetrics(power []float64, axis spectrum.FrequencyAxis) (spectrum.Metrics, bool) {
	if len(power) == 0 || len(power) != len(axis) {
		p.logger.Error("error calculating metrics: spectrum and frequency axis do not match",
			slog.Int("bins", len(power)), slog.Int("axis", len(axis)))
		return spectrum.Metrics{}, false
	}

	return spectrum.Metrics{
		MaxPower:      floats.Max(power),
		MeanPower:     stat.Mean(power, nil),
		PeakFrequency: axis[floats.MaxIdx(power)],
		Bandwidth:     spectrum.Bandwidth(power, axis),
	}, true
}
