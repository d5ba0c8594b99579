package sdr

import (
	"context"
	"fmt"
	"math"

	"github.com/geeknik/rtl-sdr-analyzer/internal/spectrum"
)

// Source is a receiver that hands out fixed-size blocks of normalized IQ
// samples on demand.
//
// ReadSamples never blocks. A nil block with a nil error means no data was
// available yet and the caller should try again on its next cycle.
type Source interface {
	Connect(ctx context.Context) error     // Opens and configures the receiver
	ReadSamples() ([]complex128, error)    // Returns one block or nil when nothing is buffered
	FrequencyAxis() spectrum.FrequencyAxis // Frequencies of the spectrum bins in MHz
	Close() error                          // Releases the receiver, safe to call repeatedly
}

// Params describe the band a Source is tuned to.
type Params struct {
	CenterFreq float64 // Hz
	SampleRate float64 // Hz
	FFTSize    int     // Samples per block
}

// FrequencyAxis returns the axis matching the tuned band.
func (p Params) FrequencyAxis() spectrum.FrequencyAxis {
	return spectrum.NewFrequencyAxis(p.CenterFreq, p.SampleRate, p.FFTSize)
}

// Validate checks that the band can be tuned and processed.
func (p Params) Validate() error {
	if p.CenterFreq <= 0 || p.CenterFreq > math.MaxUint32 {
		return fmt.Errorf("invalid center frequency: %f", p.CenterFreq)
	}
	if p.SampleRate <= 0 || p.SampleRate > math.MaxUint32 {
		return fmt.Errorf("invalid sample rate: %f", p.SampleRate)
	}
	if p.FFTSize <= 0 {
		return fmt.Errorf("invalid FFT size: %d", p.FFTSize)
	}
	return nil
}
