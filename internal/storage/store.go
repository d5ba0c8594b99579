package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr"
)

// Store persists analyzer sessions and the detection events they produced.
// Spectra are never stored. All write operations are atomic.
type Store interface {
	// CreateSession records the start of an analyzer run and returns its
	// unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - source: Address of the receiver (e.g. "192.168.31.34:1234")
	//   - params: Band the receiver is tuned to
	//   - config: Optional effective configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, source string, params sdr.Params, config any) (sessionID int64, err error)

	// StoreEvent saves a detection event for a session.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: ID of the session the event belongs to
	//   - event: Event emitted by the detector
	//
	// Returns:
	//   - eventID: Unique identifier for the stored event
	//   - error: If storage fails or context is cancelled
	StoreEvent(ctx context.Context, sessionID int64, event *detection.DetectionEvent) (eventID int64, err error)

	// UpdateSessionStats stores the final detection statistics of a session
	// and marks it as ended.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: ID of the session to update
	//   - stats: Statistics reported by the detector
	//   - endTime: When the session stopped
	//
	// Returns:
	//   - error: If the session does not exist, storage fails or context is cancelled
	UpdateSessionStats(ctx context.Context, sessionID int64, stats detection.DetectionStats, endTime time.Time) error

	// Session retrieves a session by its ID.
	//
	// Returns:
	//   - session: Pointer to session data
	//   - error: If retrieval fails, the session does not exist or context is cancelled
	Session(ctx context.Context, id int64) (session *Session, err error)

	// Sessions returns all sessions ordered by start time in ascending order.
	Sessions(ctx context.Context) (sessions []*Session, err error)

	// Events returns the events of a session ordered by timestamp. Options
	// narrow the result (WithTimeRange, WithFreqRange, WithMinConfidence,
	// WithLimit).
	Events(ctx context.Context, sessionID int64, opts ...EventOption) (events []*Event, err error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
