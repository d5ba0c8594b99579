package detection

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/geeknik/rtl-sdr-analyzer/internal/spectrum"
)

const (
	// baselineAlpha is the weight of the newest frame in the baseline average.
	baselineAlpha = 0.1

	// stdEpsilon keeps the z-score finite on a perfectly flat baseline.
	stdEpsilon = 1e-10
)

// Config holds the detection thresholds.
type Config struct {
	PowerThreshold     float64       // Peak power in dB
	BandwidthThreshold float64       // 3 dB bandwidth in Hz
	ZScoreThreshold    float64       // Deviation of the frame mean from the baseline
	DetectionWindow    int           // Frames used to establish the baseline
	MinDuration        time.Duration // How long an anomaly must persist
	TestMode           bool          // Any single criterion is enough
	DedupEpisodes      bool          // Emit only the first event of each anomaly
}

// Validate checks the thresholds can be used by a Detector.
func (c Config) Validate() error {
	if c.DetectionWindow <= 0 {
		return fmt.Errorf("invalid detection window: %d", c.DetectionWindow)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("invalid z-score threshold: %f", c.ZScoreThreshold)
	}
	if c.MinDuration < 0 {
		return errors.New("minimum duration must not be negative")
	}
	return nil
}

// State is the position of the Detector in an anomaly episode.
type State int

const (
	StateIdle      State = iota // No anomaly in progress
	StateCandidate              // Anomaly seen, waiting or emitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCandidate:
		return "candidate"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// WithLogger sets the logger for the detector
func WithLogger(logger *slog.Logger) func(d *Detector) {
	return func(d *Detector) {
		d.logger = logger.With(slog.String("component", "detector"))
	}
}

// Detector flags power spectra that deviate from an adaptive baseline and
// emits an event once a deviation persists for the minimum duration.
//
// The baseline is built from the mean power of the last DetectionWindow
// frames. Until that many frames were seen, Detect never reports anything.
// Afterwards the baseline follows new frames through an exponential moving
// average.
type Detector struct {
	cfg Config

	mu sync.Mutex

	history      []float64
	baselineMean float64
	baselineStd  float64
	hasBaseline  bool

	state   State
	start   time.Time
	emitted bool

	stats DetectionStats

	logger *slog.Logger
}

// New creates a Detector with no baseline.
func New(cfg Config, options ...func(d *Detector)) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := Detector{
		cfg:     cfg,
		history: make([]float64, 0, cfg.DetectionWindow),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&d)
	}

	return &d, nil
}

// Detect feeds one spectrum captured at ts. It returns an event when the
// spectrum continues an anomaly that has lasted at least MinDuration, and nil
// otherwise. Statistics are updated for every valid spectrum.
func (d *Detector) Detect(power []float64, axis spectrum.FrequencyAxis, ts time.Time) *DetectionEvent {
	if len(power) == 0 || len(power) != len(axis) {
		d.logger.Error("skipping spectrum: bins and frequency axis do not match",
			slog.Int("bins", len(power)), slog.Int("axis", len(axis)))
		return nil
	}
	if !finite(power) {
		d.logger.Error("skipping spectrum: non-finite power values")
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current := stat.Mean(power, nil)
	maxPower := floats.Max(power)

	d.updateBaseline(current)
	if !d.hasBaseline {
		d.stats.update(maxPower, false)
		return nil
	}

	zScore := (current - d.baselineMean) / (d.baselineStd + stdEpsilon)
	bandwidth := spectrum.Bandwidth(power, axis)

	criteria := [...]bool{
		maxPower > d.cfg.PowerThreshold,
		bandwidth > d.cfg.BandwidthThreshold,
		math.Abs(zScore) > d.cfg.ZScoreThreshold,
	}
	isSignal := d.decide(criteria[:])

	d.stats.update(maxPower, isSignal)

	switch {
	case isSignal && d.state == StateIdle:
		d.state = StateCandidate
		d.start = ts
		d.emitted = false
		d.logger.Info("potential signal detected", slog.Float64("power", maxPower))

	case isSignal:
		elapsed := ts.Sub(d.start)
		if elapsed < d.cfg.MinDuration {
			return nil
		}
		if d.cfg.DedupEpisodes && d.emitted {
			return nil
		}
		d.emitted = true

		peak := floats.MaxIdx(power)
		snr := maxPower - d.baselineMean
		offset := (axis[peak] - axis.Center()) * 1e6

		event := &DetectionEvent{
			Timestamp:    ts,
			Frequency:    axis[peak],
			Power:        maxPower,
			Bandwidth:    bandwidth,
			Duration:     elapsed,
			Confidence:   math.Abs(zScore) / d.cfg.ZScoreThreshold,
			SNR:          &snr,
			CenterOffset: &offset,
		}

		d.logger.Info("signal confirmed",
			slog.Float64("frequency", event.Frequency),
			slog.Float64("power", event.Power),
			slog.Float64("bandwidth", event.Bandwidth),
			slog.Duration("duration", event.Duration),
			slog.Float64("confidence", event.Confidence),
		)
		return event

	case d.state == StateCandidate:
		d.state = StateIdle
		d.start = time.Time{}
		d.logger.Info("signal ended")
	}

	return nil
}

func (d *Detector) decide(criteria []bool) bool {
	if d.cfg.TestMode {
		for _, c := range criteria {
			if c {
				return true
			}
		}
		return false
	}

	for _, c := range criteria {
		if !c {
			return false
		}
	}
	return true
}

// updateBaseline pushes the frame mean into the history and refreshes the
// baseline. The caller must hold d.mu.
func (d *Detector) updateBaseline(current float64) {
	if len(d.history) == d.cfg.DetectionWindow {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, current)

	if len(d.history) < d.cfg.DetectionWindow {
		return
	}

	if !d.hasBaseline {
		d.baselineMean = stat.Mean(d.history, nil)
		d.baselineStd = stat.PopStdDev(d.history, nil)
		d.hasBaseline = true
		d.logger.Info("baseline established",
			slog.Float64("mean", d.baselineMean),
			slog.Float64("std", d.baselineStd),
		)
		return
	}

	d.baselineMean = (1-baselineAlpha)*d.baselineMean + baselineAlpha*current
	d.baselineStd = (1-baselineAlpha)*d.baselineStd + baselineAlpha*stat.PopStdDev(d.history, nil)
}

// Baseline returns the current baseline mean and standard deviation of the
// frame mean power. ok is false until the baseline is established.
func (d *Detector) Baseline() (mean, std float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.baselineMean, d.baselineStd, d.hasBaseline
}

// Stats returns a snapshot of the running statistics.
func (d *Detector) Stats() DetectionStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stats
}

// State returns whether an anomaly is currently in progress.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

func finite(power []float64) bool {
	for _, p := range power {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	return true
}
