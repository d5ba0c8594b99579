package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr"
)

var testParams = sdr.Params{
	CenterFreq: 915e6,
	SampleRate: 2.048e6,
	FFTSize:    2048,
}

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "analyzer.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return s
}

func testEvent(ts time.Time, freq, confidence float64) *detection.DetectionEvent {
	snr := 38.8
	return &detection.DetectionEvent{
		Timestamp:  ts,
		Frequency:  freq,
		Power:      -50,
		Bandwidth:  325079.37,
		Duration:   200 * time.Millisecond,
		Confidence: confidence,
		SNR:        &snr,
	}
}

func TestSqliteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	config := map[string]any{"fftSize": 2048}
	id, err := s.CreateSession(ctx, "127.0.0.1:1234", testParams, config)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive session ID, got %d", id)
	}

	sess, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("failed to read session: %v", err)
	}
	if sess.Source != "127.0.0.1:1234" || sess.CenterFreq != 915e6 || sess.SampleRate != 2.048e6 || sess.FFTSize != 2048 {
		t.Errorf("unexpected session: %+v", sess)
	}
	if sess.Config == nil || *sess.Config != `{"fftSize":2048}` {
		t.Errorf("unexpected config: %v", sess.Config)
	}
	if sess.EndTime != nil || sess.Stats != nil {
		t.Error("expected a running session without end time and statistics")
	}

	if _, err := s.CreateSession(ctx, "127.0.0.1:1235", testParams, nil); err != nil {
		t.Fatalf("failed to create second session: %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != id {
		t.Errorf("expected sessions ordered by start time")
	}
	if sessions[1].Config != nil {
		t.Errorf("expected nil config, got %q", *sessions[1].Config)
	}
}

func TestSqliteStore_SessionNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.CreateSession(ctx, "127.0.0.1:1234", testParams, nil); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if _, err := s.Session(ctx, 42); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	err := s.UpdateSessionStats(ctx, 42, detection.DetectionStats{}, time.Now())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSqliteStore_UpdateSessionStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateSession(ctx, "127.0.0.1:1234", testParams, "raw config")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	stats := detection.DetectionStats{
		TotalFrames:    100,
		DetectedFrames: 7,
		DetectionRate:  0.07,
		AveragePower:   -84.5,
		PeakPower:      -48.25,
	}
	end := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	if err := s.UpdateSessionStats(ctx, id, stats, end); err != nil {
		t.Fatalf("failed to update stats: %v", err)
	}

	sess, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("failed to read session: %v", err)
	}
	if sess.Stats == nil || *sess.Stats != stats {
		t.Errorf("expected stats %+v, got %+v", stats, sess.Stats)
	}
	if sess.EndTime == nil || !sess.EndTime.Equal(end) {
		t.Errorf("expected end time %s, got %v", end, sess.EndTime)
	}
	if sess.Config == nil || *sess.Config != "raw config" {
		t.Errorf("unexpected config: %v", sess.Config)
	}
}

func TestSqliteStore_Events(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateSession(ctx, "127.0.0.1:1234", testParams, nil)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	other, err := s.CreateSession(ctx, "127.0.0.1:1234", testParams, nil)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []*detection.DetectionEvent{
		testEvent(base.Add(2*time.Second), 915.1, 3.5),
		testEvent(base, 914.5, 1.2),
		testEvent(base.Add(time.Second), 915.9, 8.0),
	}
	events[1].SNR = nil
	offset := -512.5
	events[2].CenterOffset = &offset

	for _, e := range events {
		if _, err := s.StoreEvent(ctx, id, e); err != nil {
			t.Fatalf("failed to store event: %v", err)
		}
	}
	if _, err := s.StoreEvent(ctx, other, testEvent(base, 915, 2)); err != nil {
		t.Fatalf("failed to store event: %v", err)
	}

	got, err := s.Events(ctx, id)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}

	// Ordered by timestamp.
	for i, want := range []*detection.DetectionEvent{events[1], events[2], events[0]} {
		e := got[i].Detection
		if got[i].SessionID != id {
			t.Errorf("event %d: expected session %d, got %d", i, id, got[i].SessionID)
		}
		if !e.Timestamp.Equal(want.Timestamp) {
			t.Errorf("event %d: expected timestamp %s, got %s", i, want.Timestamp, e.Timestamp)
		}
		if e.Frequency != want.Frequency || e.Confidence != want.Confidence || e.Duration != want.Duration {
			t.Errorf("event %d: expected %+v, got %+v", i, want, e)
		}
	}

	if got[0].Detection.SNR != nil {
		t.Errorf("expected nil SNR, got %f", *got[0].Detection.SNR)
	}
	if got[1].Detection.CenterOffset == nil || *got[1].Detection.CenterOffset != offset {
		t.Errorf("expected center offset %f, got %v", offset, got[1].Detection.CenterOffset)
	}
	if got[2].Detection.SNR == nil || *got[2].Detection.SNR != 38.8 {
		t.Errorf("expected SNR 38.8, got %v", got[2].Detection.SNR)
	}
}

func TestSqliteStore_EventFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateSession(ctx, "127.0.0.1:1234", testParams, nil)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, freq := range []float64{914.2, 914.8, 915.3, 915.7} {
		e := testEvent(base.Add(time.Duration(i)*time.Second), freq, float64(i+1))
		if _, err := s.StoreEvent(ctx, id, e); err != nil {
			t.Fatalf("failed to store event: %v", err)
		}
	}

	testCases := []struct {
		name  string
		opts  []EventOption
		freqs []float64
	}{
		{"no filter", nil, []float64{914.2, 914.8, 915.3, 915.7}},
		{"time range", []EventOption{WithTimeRange(base.Add(time.Second), base.Add(3*time.Second))}, []float64{914.8, 915.3}},
		{"frequency range", []EventOption{WithFreqRange(914.5, 915.5)}, []float64{914.8, 915.3}},
		{"minimum confidence", []EventOption{WithMinConfidence(3)}, []float64{915.3, 915.7}},
		{"limit", []EventOption{WithLimit(1)}, []float64{914.2}},
		{"combined", []EventOption{WithFreqRange(914, 916), WithMinConfidence(2), WithLimit(2)}, []float64{914.8, 915.3}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Events(ctx, id, tc.opts...)
			if err != nil {
				t.Fatalf("failed to read events: %v", err)
			}
			if len(got) != len(tc.freqs) {
				t.Fatalf("expected %d events, got %d", len(tc.freqs), len(got))
			}
			for i, f := range tc.freqs {
				if got[i].Detection.Frequency != f {
					t.Errorf("event %d: expected frequency %f, got %f", i, f, got[i].Detection.Frequency)
				}
			}
		})
	}
}

func TestSqliteStore_StoreNilEvent(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreEvent(context.Background(), 1, nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestSqliteStore_CloseTwice(t *testing.T) {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "analyzer.db"))

	if _, err := s.CreateSession(context.Background(), "127.0.0.1:1234", testParams, nil); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}
