package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time,
                      source,
                      center_freq,
                      sample_rate,
                      fft_size,
                      config)
VALUES (?, ?, ?, ?, ?, ?)`

	updateSessionStatsSQL = `
UPDATE sessions
SET end_time        = ?,
    total_frames    = ?,
    detected_frames = ?,
    false_positives = ?,
    detection_rate  = ?,
    average_power   = ?,
    peak_power      = ?
WHERE id = ?`

	selectSessionColumns = `
SELECT id,
       start_time,
       end_time,
       source,
       center_freq,
       sample_rate,
       fft_size,
       config,
       total_frames,
       detected_frames,
       false_positives,
       detection_rate,
       average_power,
       peak_power
FROM sessions`

	selectSessionSQL = selectSessionColumns + `
WHERE id = ?`

	selectSessionsSQL = selectSessionColumns + `
ORDER BY start_time, id`

	insertEventSQL = `
INSERT INTO events (session_id,
                    timestamp,
                    frequency,
                    power,
                    bandwidth,
                    duration_ns,
                    confidence,
                    snr,
                    center_offset)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectEventsSQL = `
SELECT id,
       session_id,
       timestamp,
       frequency,
       power,
       bandwidth,
       duration_ns,
       confidence,
       snr,
       center_offset
FROM events
WHERE session_id = ?`
)

//go:embed schema.sql
var initSchemaSQL string

//go:embed indexes.sql
var initIndexesSQL string
