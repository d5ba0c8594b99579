package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/dsp"
	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr"
	"github.com/geeknik/rtl-sdr-analyzer/internal/spectrum"
	"github.com/geeknik/rtl-sdr-analyzer/internal/storage"
	"github.com/geeknik/rtl-sdr-analyzer/internal/telemetry"
	"github.com/geeknik/rtl-sdr-analyzer/internal/waterfall"
)

// EventPublisher delivers detection events to an external system.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID int64, event *detection.DetectionEvent) error
}

// WithLogger sets the logger for the analyzer
func WithLogger(logger *slog.Logger) func(*Analyzer) {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithStore stores every event under the given session.
func WithStore(store storage.Store, sessionID int64) func(*Analyzer) {
	return func(a *Analyzer) {
		a.store = store
		a.sessionID = sessionID
	}
}

// WithPublisher publishes every event.
func WithPublisher(p EventPublisher) func(*Analyzer) {
	return func(a *Analyzer) {
		a.publisher = p
	}
}

// WithCollector exports the detection statistics and pipeline counters.
func WithCollector(c *telemetry.Collector) func(*Analyzer) {
	return func(a *Analyzer) {
		a.metrics = c
	}
}

// WithWaterfall feeds every spectrum to w. When path is not empty the
// waterfall is written there every interval and once on shutdown.
func WithWaterfall(w *waterfall.Waterfall, path string, interval time.Duration) func(*Analyzer) {
	return func(a *Analyzer) {
		a.waterfall = w
		a.snapshotPath = path
		a.snapshotInterval = interval
	}
}

// WithClock replaces the source of frame timestamps.
func WithClock(now func() time.Time) func(*Analyzer) {
	return func(a *Analyzer) {
		a.now = now
	}
}

// Analyzer is the driver loop: once per cycle it reads one IQ block, turns
// it into a power spectrum and hands it to the detector. Events go to the
// configured sinks.
type Analyzer struct {
	source    sdr.Source
	processor *dsp.Processor
	detector  *detection.Detector
	interval  time.Duration
	axis      spectrum.FrequencyAxis

	store     storage.Store
	sessionID int64
	publisher EventPublisher
	metrics   *telemetry.Collector

	waterfall        *waterfall.Waterfall
	snapshotPath     string
	snapshotInterval time.Duration
	lastSnapshot     time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewAnalyzer creates a driver loop running a cycle every interval.
func NewAnalyzer(source sdr.Source, processor *dsp.Processor, detector *detection.Detector, interval time.Duration, options ...func(*Analyzer)) *Analyzer {
	a := Analyzer{
		source:    source,
		processor: processor,
		detector:  detector,
		interval:  interval,
		axis:      source.FrequencyAxis(),
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&a)
	}

	a.logger = a.logger.With(slog.String("component", "analyzer"))
	return &a
}

// Run connects the source and cycles until ctx is done or the source fails.
// The source is closed exactly once on every exit path.
func (a *Analyzer) Run(ctx context.Context) (err error) {
	defer func() {
		if cErr := a.source.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing source: %w", cErr)
		}
	}()

	if err = a.source.Connect(ctx); err != nil {
		return err
	}

	a.lastSnapshot = a.now()
	defer a.finish()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if _, err = a.step(ctx); err != nil {
				return err
			}
		}
	}
}

// step runs a single cycle and returns the event it produced, if any.
// Only a failure of the source itself is returned as an error.
func (a *Analyzer) step(ctx context.Context) (*detection.DetectionEvent, error) {
	samples, err := a.source.ReadSamples()
	if err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}
	if samples == nil {
		a.metrics.IncEmptyRead()
		return nil, nil
	}

	power := a.processor.ProcessSamples(samples)
	if power == nil {
		a.metrics.IncDropped()
		return nil, nil
	}

	ts := a.now()

	m, ok := a.processor.SignalMetrics(power, a.axis)
	if ok {
		a.logger.Debug("Signal metrics",
			slog.Float64("maxPower", m.MaxPower),
			slog.Float64("meanPower", m.MeanPower),
			slog.Float64("peakFrequency", m.PeakFrequency),
			slog.Float64("bandwidth", m.Bandwidth))
	}

	event := a.detector.Detect(power, a.axis, ts)

	a.metrics.ObserveStats(a.detector.Stats())
	if mean, std, ok := a.detector.Baseline(); ok {
		a.metrics.SetBaseline(mean, std)
	}

	if a.waterfall != nil {
		if err = a.waterfall.Push(power, ts, event); err != nil {
			a.logger.Error("Failed to update waterfall", slog.Any("error", err))
		}
	}

	if event != nil {
		a.handleEvent(ctx, event, m)
	}

	if a.snapshotPath != "" && ts.Sub(a.lastSnapshot) >= a.snapshotInterval {
		a.snapshot()
		a.lastSnapshot = ts
	}

	return event, nil
}

func (a *Analyzer) handleEvent(ctx context.Context, event *detection.DetectionEvent, m spectrum.Metrics) {
	a.metrics.IncEvents()

	a.logger.Info("Signal detected",
		slog.String("frequency", humanize.SIWithDigits(event.Frequency*1e6, 3, "Hz")),
		slog.Float64("power", event.Power),
		slog.String("bandwidth", humanize.SIWithDigits(event.Bandwidth, 1, "Hz")),
		slog.Duration("duration", event.Duration),
		slog.Float64("confidence", event.Confidence),
		slog.Float64("meanPower", m.MeanPower))

	if a.store != nil {
		if _, err := a.store.StoreEvent(ctx, a.sessionID, event); err != nil {
			a.logger.Error("Failed to store event", slog.Any("error", err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, a.sessionID, event); err != nil {
			a.logger.Error("Failed to publish event", slog.Any("error", err))
		}
	}
}

func (a *Analyzer) snapshot() {
	if a.waterfall == nil || a.snapshotPath == "" {
		return
	}
	if err := a.waterfall.WritePNG(a.snapshotPath); err != nil {
		a.logger.Error("Failed to write waterfall snapshot", slog.Any("error", err))
		return
	}
	a.logger.Debug("Waterfall snapshot written", slog.String("path", a.snapshotPath))
}

func (a *Analyzer) finish() {
	a.snapshot()

	stats := a.detector.Stats()
	a.logger.Info("Analyzer stopped",
		slog.Int("totalFrames", stats.TotalFrames),
		slog.Int("detectedFrames", stats.DetectedFrames),
		slog.Float64("detectionRate", stats.DetectionRate),
		slog.Float64("averagePower", stats.AveragePower),
		slog.Float64("peakPower", stats.PeakPower))
}

// Stats returns the detector statistics.
func (a *Analyzer) Stats() detection.DetectionStats {
	return a.detector.Stats()
}
