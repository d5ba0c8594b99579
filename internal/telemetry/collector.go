package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
)

const namespace = "rtlsdr_analyzer"

// Collector bundles the Prometheus metrics exported by the analyzer pipeline.
type Collector struct {
	gatherer prometheus.Gatherer

	Frames         prometheus.Counter
	DetectedFrames prometheus.Counter
	Events         prometheus.Counter
	EmptyReads     prometheus.Counter
	DroppedFrames  prometheus.Counter

	DetectionRate prometheus.Gauge
	AveragePower  prometheus.Gauge
	PeakPower     prometheus.Gauge
	BaselineMean  prometheus.Gauge
	BaselineStd   prometheus.Gauge

	lastTotal    int
	lastDetected int
}

// NewCollector registers the analyzer metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Frames, "frames_total", "Spectra evaluated by the detector."},
		{&c.DetectedFrames, "detected_frames_total", "Spectra that satisfied the detection rule."},
		{&c.Events, "events_total", "Detection events emitted."},
		{&c.EmptyReads, "empty_reads_total", "Sample reads that returned no data."},
		{&c.DroppedFrames, "dropped_frames_total", "Sample blocks the spectral processor rejected."},
	}
	for _, cnt := range counters {
		counter, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      cnt.name,
			Help:      cnt.help,
		}), cnt.name)
		if err != nil {
			return nil, err
		}
		*cnt.dst = counter
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.DetectionRate, "detection_rate", "Detected frames divided by total frames."},
		{&c.AveragePower, "average_power_db", "Running average of the per-frame peak power in dB."},
		{&c.PeakPower, "peak_power_db", "Highest per-frame peak power seen in dB."},
		{&c.BaselineMean, "baseline_mean_db", "Adaptive baseline mean power in dB."},
		{&c.BaselineStd, "baseline_std_db", "Adaptive baseline standard deviation in dB."},
	}
	for _, g := range gauges {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}), g.name)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStats updates the gauges from the detector statistics and advances
// the frame counters by the difference since the previous call.
func (c *Collector) ObserveStats(stats detection.DetectionStats) {
	if c == nil {
		return
	}

	if d := stats.TotalFrames - c.lastTotal; d > 0 {
		c.Frames.Add(float64(d))
	}
	if d := stats.DetectedFrames - c.lastDetected; d > 0 {
		c.DetectedFrames.Add(float64(d))
	}
	c.lastTotal = stats.TotalFrames
	c.lastDetected = stats.DetectedFrames

	c.DetectionRate.Set(stats.DetectionRate)
	c.AveragePower.Set(stats.AveragePower)
	c.PeakPower.Set(stats.PeakPower)
}

// SetBaseline records the detector baseline.
func (c *Collector) SetBaseline(mean, std float64) {
	if c == nil {
		return
	}
	c.BaselineMean.Set(mean)
	c.BaselineStd.Set(std)
}

func (c *Collector) IncEvents() {
	if c != nil {
		c.Events.Inc()
	}
}

func (c *Collector) IncEmptyRead() {
	if c != nil {
		c.EmptyReads.Inc()
	}
}

func (c *Collector) IncDropped() {
	if c != nil {
		c.DroppedFrames.Inc()
	}
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
