package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
)

func TestObserveStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveStats(detection.DetectionStats{TotalFrames: 5, DetectedFrames: 1, DetectionRate: 0.2, AveragePower: -88, PeakPower: -50})
	c.ObserveStats(detection.DetectionStats{TotalFrames: 8, DetectedFrames: 2, DetectionRate: 0.25, AveragePower: -85, PeakPower: -48})

	testCases := []struct {
		name   string
		metric prometheus.Collector
		want   float64
	}{
		{"frames", c.Frames, 8},
		{"detected frames", c.DetectedFrames, 2},
		{"detection rate", c.DetectionRate, 0.25},
		{"average power", c.AveragePower, -85},
		{"peak power", c.PeakPower, -48},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tc.metric); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.IncEvents()
	c.IncEmptyRead()
	c.IncEmptyRead()
	c.IncDropped()
	c.SetBaseline(-89.375, 0.25)

	if got := testutil.ToFloat64(c.Events); got != 1 {
		t.Errorf("events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.EmptyReads); got != 2 {
		t.Errorf("empty reads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.DroppedFrames); got != 1 {
		t.Errorf("dropped frames = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.BaselineMean); got != -89.375 {
		t.Errorf("baseline mean = %v, want -89.375", got)
	}
	if got := testutil.ToFloat64(c.BaselineStd); got != 0.25 {
		t.Errorf("baseline std = %v, want 0.25", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	c.ObserveStats(detection.DetectionStats{TotalFrames: 1})
	c.SetBaseline(1, 2)
	c.IncEvents()
	c.IncEmptyRead()
	c.IncDropped()
}

func TestNewCollector_Reregister(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}

	first.IncEvents()
	if got := testutil.ToFloat64(second.Events); got != 1 {
		t.Fatalf("expected shared counter, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.IncEvents()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"rtlsdr_analyzer_frames_total",
		"rtlsdr_analyzer_events_total 1",
		"rtlsdr_analyzer_detection_rate",
		"rtlsdr_analyzer_baseline_std_db",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %q in /metrics output", metric)
		}
	}
}
