package spectrum

import (
	"gonum.org/v1/gonum/floats"
)

// FrequencyAxis holds the frequency, in MHz, of every bin of a power spectrum.
// Bins are ordered from the lowest to the highest frequency, with the band
// center in the middle, matching a zero-centered FFT.
type FrequencyAxis []float64

// NewFrequencyAxis returns n linearly spaced frequencies spanning
// [center-rate/2, center+rate/2]. Both center and rate are given in Hz.
func NewFrequencyAxis(center, rate float64, n int) FrequencyAxis {
	if n <= 0 {
		return FrequencyAxis{}
	}

	start := (center - rate/2) / 1e6
	end := (center + rate/2) / 1e6

	axis := make(FrequencyAxis, n)
	if n == 1 {
		axis[0] = start
		return axis
	}
	floats.Span(axis, start, end)
	return axis
}

// Spacing returns the distance between two adjacent bins in MHz.
func (a FrequencyAxis) Spacing() float64 {
	if len(a) < 2 {
		return 0
	}
	return a[1] - a[0]
}

// Center returns the frequency in the middle of the axis in MHz.
func (a FrequencyAxis) Center() float64 {
	if len(a) == 0 {
		return 0
	}
	return (a[0] + a[len(a)-1]) / 2
}

// Clone returns a copy that can be handed out without exposing the axis.
func (a FrequencyAxis) Clone() FrequencyAxis {
	c := make(FrequencyAxis, len(a))
	copy(c, a)
	return c
}

// Metrics are scalar diagnostics derived from a single power spectrum.
type Metrics struct {
	MaxPower      float64 `json:"maxPower"`      // Peak power in dB
	MeanPower     float64 `json:"meanPower"`     // Mean power across all bins in dB
	PeakFrequency float64 `json:"peakFrequency"` // Frequency of the peak bin in MHz
	Bandwidth     float64 `json:"bandwidth"`     // 3 dB bandwidth in Hz
}

// Bandwidth returns the width, in Hz, of the spectral region within 3 dB of the
// peak: the number of bins strictly above peak-3 dB multiplied by the bin
// spacing. The axis is in MHz while the result is in Hz.
func Bandwidth(power []float64, axis FrequencyAxis) float64 {
	if len(power) == 0 || len(axis) < 2 {
		return 0
	}

	limit := floats.Max(power) - 3
	var bins int
	for _, p := range power {
		if p > limit {
			bins++
		}
	}
	return float64(bins) * axis.Spacing() * 1e6
}
