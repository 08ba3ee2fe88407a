package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reading_history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    device_id TEXT,
    reading TEXT NOT NULL,
    timestamp_unix_ms INTEGER NOT NULL,
    received_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reading_history_received
    ON reading_history(received_at_unix_ms);
CREATE TABLE IF NOT EXISTS latest_reading (
    slot INTEGER PRIMARY KEY CHECK (slot = 1),
    reading TEXT NOT NULL,
    updated_at_unix_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS current_health (
    slot INTEGER PRIMARY KEY CHECK (slot = 1),
    record TEXT NOT NULL,
    updated_at_unix_ms INTEGER NOT NULL
);
`

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	uri := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create sqlite schema: %w", err)
	}

	slog.Info("store: sqlite ready", "path", path)
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) PutReading(ctx context.Context, r types.SensorReading) (Entry, error) {
	e := Entry{ID: uuid.NewString(), Reading: r, ReceivedAt: s.now().UTC()}
	body, err := encode(r)
	if err != nil {
		return Entry{}, fmt.Errorf("store: encode reading: %w", err)
	}
	receivedMs := e.ReceivedAt.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO latest_reading (slot, reading, updated_at_unix_ms)
		VALUES (1, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
		reading = excluded.reading,
		updated_at_unix_ms = excluded.updated_at_unix_ms`,
		string(body), receivedMs); err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reading_history (id, device_id, reading, timestamp_unix_ms, received_at_unix_ms)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, r.DeviceID, string(body), r.Timestamp, receivedMs); err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	return e, nil
}

func (s *SQLite) Latest(ctx context.Context) (types.SensorReading, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT reading FROM latest_reading WHERE slot = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SensorReading{}, false, nil
	}
	if err != nil {
		return types.SensorReading{}, false, unavailable("latest", err)
	}
	r, err := decodeReading([]byte(body))
	if err != nil {
		return types.SensorReading{}, false, fmt.Errorf("store: latest: %w", err)
	}
	return r, true, nil
}

func (s *SQLite) SetCurrentHealth(ctx context.Context, rec types.HealthRecord) error {
	body, err := encode(rec)
	if err != nil {
		return fmt.Errorf("store: encode health record: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO current_health (slot, record, updated_at_unix_ms)
		VALUES (1, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
		record = excluded.record,
		updated_at_unix_ms = excluded.updated_at_unix_ms`,
		string(body), s.now().UnixMilli()); err != nil {
		return unavailable("set current health", err)
	}
	return nil
}

func (s *SQLite) CurrentHealth(ctx context.Context) (types.HealthRecord, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM current_health WHERE slot = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return types.HealthRecord{}, false, nil
	}
	if err != nil {
		return types.HealthRecord{}, false, unavailable("current health", err)
	}
	rec, err := decodeHealth([]byte(body))
	if err != nil {
		return types.HealthRecord{}, false, fmt.Errorf("store: current health: %w", err)
	}
	return rec, true, nil
}

func (s *SQLite) History(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reading, received_at_unix_ms
		FROM reading_history
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("history", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			body       string
			receivedMs int64
		)
		if err := rows.Scan(&e.ID, &body, &receivedMs); err != nil {
			return nil, unavailable("history", err)
		}
		if e.Reading, err = decodeReading([]byte(body)); err != nil {
			return nil, fmt.Errorf("store: history: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(receivedMs).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("history", err)
	}
	reverse(out)
	return out, nil
}

func (s *SQLite) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reading_history WHERE received_at_unix_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, unavailable("prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("prune", err)
	}
	return int(n), nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
