package detection

import (
	"encoding/json"
	"math"
	"time"
)

// TimestampLayout is the ISO-8601 layout used when events are serialized.
const TimestampLayout = "2006-01-02T15:04:05.999999Z07:00"

// DetectionEvent is a confirmed anomaly. Events are created by the Detector
// and never modified afterwards.
type DetectionEvent struct {
	Timestamp  time.Time
	Frequency  float64       // Peak frequency in MHz
	Power      float64       // Peak power in dB
	Bandwidth  float64       // 3 dB bandwidth in Hz
	Duration   time.Duration // Time since the anomaly was first seen
	Confidence float64       // |z| / z-score threshold, not capped at 1

	SNR          *float64 // Peak power above the baseline mean in dB
	CenterOffset *float64 // Peak frequency minus band center in Hz
}

// ToMap returns the event as a flat map with values rounded for display.
// Missing optional values are kept as nil.
func (e DetectionEvent) ToMap() map[string]any {
	return map[string]any{
		"timestamp":     e.Timestamp.Format(TimestampLayout),
		"frequency":     round(e.Frequency, 3),
		"power":         round(e.Power, 2),
		"bandwidth":     round(e.Bandwidth, 2),
		"duration":      round(e.Duration.Seconds(), 2),
		"confidence":    round(e.Confidence, 2),
		"snr":           roundOptional(e.SNR, 2),
		"center_offset": roundOptional(e.CenterOffset, 2),
	}
}

// MarshalJSON encodes the rounded map form of the event.
func (e DetectionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// DetectionStats are running counters over every frame the Detector saw.
type DetectionStats struct {
	TotalFrames    int     `json:"total_frames"`
	DetectedFrames int     `json:"detected_frames"`
	FalsePositives int     `json:"false_positives"` // Reserved, never incremented
	DetectionRate  float64 `json:"detection_rate"`
	AveragePower   float64 `json:"average_power"` // Mean of per-frame peak power in dB
	PeakPower      float64 `json:"peak_power"`    // Highest per-frame peak power in dB
}

func (s *DetectionStats) update(power float64, detected bool) {
	s.TotalFrames++
	if detected {
		s.DetectedFrames++
	}

	if s.TotalFrames == 1 {
		s.PeakPower = power
	} else {
		s.PeakPower = max(s.PeakPower, power)
	}

	n := float64(s.TotalFrames)
	s.AveragePower = (s.AveragePower*(n-1) + power) / n
	s.DetectionRate = float64(s.DetectedFrames) / n
}

// Rate returns DetectedFrames/TotalFrames, or 0 before the first frame.
func (s DetectionStats) Rate() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(s.DetectedFrames) / float64(s.TotalFrames)
}

// ToMap returns the statistics with values rounded for display.
func (s DetectionStats) ToMap() map[string]any {
	return map[string]any{
		"total_frames":    s.TotalFrames,
		"detected_frames": s.DetectedFrames,
		"false_positives": s.FalsePositives,
		"detection_rate":  round(s.DetectionRate, 4),
		"average_power":   round(s.AveragePower, 2),
		"peak_power":      round(s.PeakPower, 2),
	}
}

func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

func roundOptional(v *float64, decimals int) any {
	if v == nil {
		return nil
	}
	return round(*v, decimals)
}
