package dsp

import (
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/geeknik/rtl-sdr-analyzer/internal/spectrum"
)

func tone(n int, bin float64) []complex128 {
	iq := make([]complex128, n)
	for i := range iq {
		iq[i] = cmplx.Exp(complex(0, 2*math.Pi*bin*float64(i)/float64(n)))
	}
	return iq
}

func TestNewProcessor(t *testing.T) {
	testCases := []struct {
		name       string
		fftSize    int
		sampleRate float64
		wantErr    bool
	}{
		{"default size", 2048, 2.048e6, false},
		{"smallest usable size", 16, 2.048e6, false},
		{"size equal to filter padding", 15, 2.048e6, true},
		{"zero size", 0, 2.048e6, true},
		{"zero sample rate", 64, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewProcessor(tc.fftSize, tc.sampleRate)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.FFTSize() != tc.fftSize {
				t.Errorf("expected FFT size %d, got %d", tc.fftSize, p.FFTSize())
			}
		})
	}
}

func TestProcessSamples_WrongLength(t *testing.T) {
	p, err := NewProcessor(64, 2.048e6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out := p.ProcessSamples(make([]complex128, 63)); out != nil {
		t.Errorf("expected nil for short block, got %d bins", len(out))
	}
	if out := p.ProcessSamples(nil); out != nil {
		t.Errorf("expected nil for empty block, got %d bins", len(out))
	}
}

func TestProcessSamples_ConstantInput(t *testing.T) {
	p, err := NewProcessor(64, 2.048e6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	iq := make([]complex128, 64)
	for i := range iq {
		iq[i] = complex(0.5, -0.25)
	}

	out := p.ProcessSamples(iq)
	if len(out) != 64 {
		t.Fatalf("expected 64 bins, got %d", len(out))
	}

	// The DC offset is the whole signal, so only the floor remains.
	for i, v := range out {
		if math.Abs(v+240) > 1e-6 {
			t.Fatalf("bin %d: expected -240 dB floor, got %f", i, v)
		}
	}

	if iq[0] != complex(0.5, -0.25) {
		t.Error("input block must not be modified")
	}
}

func TestProcessSamples_TonePosition(t *testing.T) {
	p, err := NewProcessor(64, 2.048e6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testCases := []struct {
		name     string
		bin      float64
		wantPeak int
	}{
		{"positive offset", 8.3, 40},
		{"negative offset", -12.25, 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := p.ProcessSamples(tone(64, tc.bin))
			if len(out) != 64 {
				t.Fatalf("expected 64 bins, got %d", len(out))
			}

			peak := 0
			for i := range out {
				if out[i] > out[peak] {
					peak = i
				}
			}

			// Smoothing spreads the tone, so allow a few bins of slack.
			if d := peak - tc.wantPeak; d < -4 || d > 4 {
				t.Errorf("expected peak near bin %d, got %d", tc.wantPeak, peak)
			}
			if (tc.bin > 0) != (peak > 32) {
				t.Errorf("peak at bin %d is on the wrong side of the center", peak)
			}
		})
	}
}

func TestProcessSamples_FiltersPowerSpectrum(t *testing.T) {
	const n = 64

	p, err := NewProcessor(n, 2.048e6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	iq := tone(n, 5.5)
	for i := range iq {
		iq[i] += 0.25 // DC offset
	}

	var mean complex128
	for _, v := range iq {
		mean += v
	}
	mean /= n

	centered := make([]complex128, n)
	for i, v := range iq {
		centered[i] = v - mean
	}

	raw := make([]float64, n)
	for i, c := range fourier.NewCmplxFFT(n).Coefficients(nil, centered) {
		raw[(i+n/2)%n] = 20 * math.Log10(cmplx.Abs(c)+epsilon)
	}

	want, err := p.Filter().FiltFilt(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.ProcessSamples(iq)
	if len(got) != n {
		t.Fatalf("expected %d bins, got %d", n, len(got))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("bin %d: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestSignalMetrics(t *testing.T) {
	p, err := NewProcessor(64, 2.048e6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	axis := spectrum.FrequencyAxis{100.0, 100.1, 100.2, 100.3}
	power := []float64{-90, -50, -51, -90}

	m, ok := p.SignalMetrics(power, axis)
	if !ok {
		t.Fatal("expected metrics")
	}
	if m.MaxPower != -50 {
		t.Errorf("expected max power -50, got %f", m.MaxPower)
	}
	if math.Abs(m.MeanPower+70.25) > 1e-9 {
		t.Errorf("expected mean power -70.25, got %f", m.MeanPower)
	}
	if m.PeakFrequency != 100.1 {
		t.Errorf("expected peak frequency 100.1, got %f", m.PeakFrequency)
	}
	if math.Abs(m.Bandwidth-0.2e6) > 1e-3 {
		t.Errorf("expected bandwidth 200 kHz, got %f", m.Bandwidth)
	}

	if _, ok := p.SignalMetrics(power, axis[:3]); ok {
		t.Error("expected failure for mismatched axis")
	}
	if _, ok := p.SignalMetrics(nil, nil); ok {
		t.Error("expected failure for empty spectrum")
	}
}
