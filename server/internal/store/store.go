package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultMaxHistory is the memory backend's history cap when none is set.
const DefaultMaxHistory = 10000

// Entry is one reading in the history log together with the time the server
// received it.
type Entry struct {
	ID         string              `json:"id"`
	Reading    types.SensorReading `json:"reading"`
	ReceivedAt time.Time           `json:"receivedAt"`
}

// Store holds the latest reading, the reading history and the current
// health record. Implementations are safe for concurrent use.
type Store interface {
	// PutReading overwrites the latest slot with r and appends it to history.
	PutReading(ctx context.Context, r types.SensorReading) (Entry, error)

	// Latest returns the most recent reading; false when none was stored.
	Latest(ctx context.Context) (types.SensorReading, bool, error)

	// SetCurrentHealth overwrites the current health record.
	SetCurrentHealth(ctx context.Context, rec types.HealthRecord) error

	// CurrentHealth returns the stored health record; false when none.
	CurrentHealth(ctx context.Context) (types.HealthRecord, bool, error)

	// History returns up to limit of the newest entries, oldest first.
	History(ctx context.Context, limit int) ([]Entry, error)

	// Prune deletes history entries received before the cutoff and returns
	// how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)

	Close() error
}

// UnavailableError wraps a failure of the underlying storage backend.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of memory | sqlite | postgres. Empty means memory.
	Backend string

	// Path is the SQLite database file.
	Path string

	// DSN is the Postgres connection string.
	DSN string

	// MaxHistory caps the memory backend's history length.
	MaxHistory int
}

// Open builds the backend named in opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemory(opts.MaxHistory), nil
	case BackendSQLite:
		return NewSQLite(ctx, opts.Path)
	case BackendPostgres:
		return NewPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}

// encode and decode serialise readings and records for the SQL backends.
func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeReading(b []byte) (types.SensorReading, error) {
	var r types.SensorReading
	if err := json.Unmarshal(b, &r); err != nil {
		return types.SensorReading{}, fmt.Errorf("decode reading: %w", err)
	}
	return r, nil
}

func decodeHealth(b []byte) (types.HealthRecord, error) {
	var rec types.HealthRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return types.HealthRecord{}, fmt.Errorf("decode health record: %w", err)
	}
	return rec, nil
}

// reverse flips entries in place; SQL backends read newest first.
func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
