package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

// toConfigData accepts a string, []byte or any JSON serializable value.
func toConfigData(config any) (sql.NullString, error) {
	var data sql.NullString

	switch c := config.(type) {
	case nil:
		return data, nil

	case string:
		data.String = c

	case []byte:
		data.String = string(c)

	default:
		p, err := json.Marshal(c)
		if err != nil {
			return data, fmt.Errorf("marshaling config: %w", err)
		}
		data.String = string(p)
	}

	data.Valid = true
	return data, nil
}

func toEventData(sessionID int64, e *detection.DetectionEvent) *eventData {
	return &eventData{
		SessionID:    sessionID,
		Timestamp:    e.Timestamp.UTC(),
		Frequency:    e.Frequency,
		Power:        e.Power,
		Bandwidth:    e.Bandwidth,
		DurationNS:   int64(e.Duration),
		Confidence:   e.Confidence,
		SNR:          toNullFloat64(e.SNR),
		CenterOffset: toNullFloat64(e.CenterOffset),
	}
}

func (d *eventData) toEvent() *Event {
	return &Event{
		ID:        d.ID,
		SessionID: d.SessionID,
		Detection: detection.DetectionEvent{
			Timestamp:    d.Timestamp,
			Frequency:    d.Frequency,
			Power:        d.Power,
			Bandwidth:    d.Bandwidth,
			Duration:     time.Duration(d.DurationNS),
			Confidence:   d.Confidence,
			SNR:          fromNullFloat64(d.SNR),
			CenterOffset: fromNullFloat64(d.CenterOffset),
		},
	}
}

func (d *sessionData) toSession() *Session {
	sess := Session{
		ID:         d.ID,
		StartTime:  d.StartTime,
		Source:     d.Source,
		CenterFreq: d.CenterFreq,
		SampleRate: d.SampleRate,
		FFTSize:    d.FFTSize,
	}

	if d.EndTime.Valid {
		sess.EndTime = &d.EndTime.Time
	}
	if d.Config.Valid {
		sess.Config = &d.Config.String
	}
	if d.TotalFrames.Valid {
		sess.Stats = &detection.DetectionStats{
			TotalFrames:    int(d.TotalFrames.Int64),
			DetectedFrames: int(d.DetectedFrames.Int64),
			FalsePositives: int(d.FalsePositives.Int64),
			DetectionRate:  d.DetectionRate.Float64,
			AveragePower:   d.AveragePower.Float64,
			PeakPower:      d.PeakPower.Float64,
		}
	}
	return &sess
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat64(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
