package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr"
)

// ErrSessionNotFound is returned when a session ID does not exist.
var ErrSessionNotFound = errors.New("session not found")

// EventOption narrows the events returned by Events.
type EventOption func(*eventQuery)

type eventQuery struct {
	startTime     *time.Time
	endTime       *time.Time
	minFreq       *float64
	maxFreq       *float64
	minConfidence *float64
	limit         int
}

// WithTimeRange keeps events with start <= timestamp < end.
func WithTimeRange(start, end time.Time) EventOption {
	return func(q *eventQuery) {
		start, end = start.UTC(), end.UTC()
		q.startTime = &start
		q.endTime = &end
	}
}

// WithFreqRange keeps events whose peak frequency, in MHz, is within
// [minFreq, maxFreq].
func WithFreqRange(minFreq, maxFreq float64) EventOption {
	return func(q *eventQuery) {
		q.minFreq = &minFreq
		q.maxFreq = &maxFreq
	}
}

// WithMinConfidence keeps events with at least the given confidence.
func WithMinConfidence(c float64) EventOption {
	return func(q *eventQuery) {
		q.minConfidence = &c
	}
}

// WithLimit caps the number of returned events.
func WithLimit(n int) EventOption {
	return func(q *eventQuery) {
		q.limit = n
	}
}

func (q *eventQuery) build(sessionID int64) (string, []any) {
	var sb strings.Builder
	args := []any{sessionID}

	sb.WriteString(selectEventsSQL)

	if q.startTime != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, *q.startTime)
	}
	if q.endTime != nil {
		sb.WriteString(" AND timestamp < ?")
		args = append(args, *q.endTime)
	}
	if q.minFreq != nil {
		sb.WriteString(" AND frequency >= ?")
		args = append(args, *q.minFreq)
	}
	if q.maxFreq != nil {
		sb.WriteString(" AND frequency <= ?")
		args = append(args, *q.maxFreq)
	}
	if q.minConfidence != nil {
		sb.WriteString(" AND confidence >= ?")
		args = append(args, *q.minConfidence)
	}

	sb.WriteString(" ORDER BY timestamp, id")

	if q.limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.limit)
	}
	return sb.String(), args
}

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the Sqlite database at dbPath.
// Connections are opened lazily and the schema is created on first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=1&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		// Sqlite allows a single writer.
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_query_only=1&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, source string, params sdr.Params, config any) (sessionID int64, err error) {
	configData, err := toConfigData(config)
	if err != nil {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx,
		time.Now().UTC(),
		source,
		params.CenterFreq,
		params.SampleRate,
		params.FFTSize,
		configData,
	)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

func (s *SqliteStore) StoreEvent(ctx context.Context, sessionID int64, event *detection.DetectionEvent) (eventID int64, err error) {
	if event == nil {
		return 0, errors.New("cannot store nil event")
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	data := toEventData(sessionID, event)

	result, err := stmt.ExecContext(
		ctx,
		data.SessionID,
		data.Timestamp,
		data.Frequency,
		data.Power,
		data.Bandwidth,
		data.DurationNS,
		data.Confidence,
		data.SNR,
		data.CenterOffset,
	)
	if err != nil {
		err = fmt.Errorf("inserting event: %w", err)
		return
	}

	eventID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting event ID: %w", err)
	}
	return
}

func (s *SqliteStore) UpdateSessionStats(ctx context.Context, sessionID int64, stats detection.DetectionStats, endTime time.Time) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.ExecContext(ctx, updateSessionStatsSQL,
		endTime.UTC(),
		stats.TotalFrames,
		stats.DetectedFrames,
		stats.FalsePositives,
		stats.DetectionRate,
		stats.AveragePower,
		stats.PeakPower,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(dest ...any) error }) (*Session, error) {
	var d sessionData
	err := row.Scan(
		&d.ID,
		&d.StartTime,
		&d.EndTime,
		&d.Source,
		&d.CenterFreq,
		&d.SampleRate,
		&d.FFTSize,
		&d.Config,
		&d.TotalFrames,
		&d.DetectedFrames,
		&d.FalsePositives,
		&d.DetectionRate,
		&d.AveragePower,
		&d.PeakPower,
	)
	if err != nil {
		return nil, err
	}
	return d.toSession(), nil
}

func (s *SqliteStore) Session(ctx context.Context, id int64) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	session, err = scanSession(stmt.QueryRowContext(ctx, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	case err != nil:
		err = fmt.Errorf("scanning session: %w", err)
	}
	return
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess *Session
		if sess, err = scanSession(rows); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating sessions: %w", err)
	}
	return
}

func (s *SqliteStore) Events(ctx context.Context, sessionID int64, opts ...EventOption) (events []*Event, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	var q eventQuery
	for _, opt := range opts {
		opt(&q)
	}
	query, args := q.build(sessionID)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("querying events: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var d eventData
		err = rows.Scan(
			&d.ID,
			&d.SessionID,
			&d.Timestamp,
			&d.Frequency,
			&d.Power,
			&d.Bandwidth,
			&d.DurationNS,
			&d.Confidence,
			&d.SNR,
			&d.CenterOffset,
		)
		if err != nil {
			err = fmt.Errorf("scanning event: %w", err)
			return
		}
		events = append(events, d.toEvent())
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating events: %w", err)
	}
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}

var _ Store = (*SqliteStore)(nil)
