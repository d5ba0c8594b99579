package storage

import (
	"database/sql"
	"time"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
)

// Session is one run of the analyzer.
type Session struct {
	ID         int64
	StartTime  time.Time
	EndTime    *time.Time // Set when the session statistics are stored
	Source     string     // Address of the receiver
	CenterFreq float64    // Hz
	SampleRate float64    // Hz
	FFTSize    int
	Config     *string // Effective configuration as JSON

	Stats *detection.DetectionStats // Final statistics, nil while running
}

// Event is a stored detection event.
type Event struct {
	ID        int64
	SessionID int64
	Detection detection.DetectionEvent
}

type sessionData struct {
	ID         int64
	StartTime  time.Time
	EndTime    sql.NullTime
	Source     string
	CenterFreq float64
	SampleRate float64
	FFTSize    int
	Config     sql.NullString

	TotalFrames    sql.NullInt64
	DetectedFrames sql.NullInt64
	FalsePositives sql.NullInt64
	DetectionRate  sql.NullFloat64
	AveragePower   sql.NullFloat64
	PeakPower      sql.NullFloat64
}

type eventData struct {
	ID           int64
	SessionID    int64
	Timestamp    time.Time
	Frequency    float64
	Power        float64
	Bandwidth    float64
	DurationNS   int64
	Confidence   float64
	SNR          sql.NullFloat64
	CenterOffset sql.NullFloat64
}
