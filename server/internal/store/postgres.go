package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS reading_history (
    seq BIGSERIAL PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    device_id TEXT,
    reading JSONB NOT NULL,
    timestamp_unix_ms BIGINT NOT NULL,
    received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reading_history_received
    ON reading_history(received_at);
CREATE TABLE IF NOT EXISTS latest_reading (
    slot SMALLINT PRIMARY KEY CHECK (slot = 1),
    reading JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS current_health (
    slot SMALLINT PRIMARY KEY CHECK (slot = 1),
    record JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// Postgres is a Store backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres connects to dsn, verifies the connection and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres dsn is required")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("store: create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create postgres schema: %w", err)
	}

	slog.Info("store: postgres ready", "host", poolConfig.ConnConfig.Host, "db", poolConfig.ConnConfig.Database)
	return &Postgres{pool: pool, now: time.Now}, nil
}

func (p *Postgres) PutReading(ctx context.Context, r types.SensorReading) (Entry, error) {
	id := uuid.New()
	e := Entry{ID: id.String(), Reading: r, ReceivedAt: p.now().UTC()}
	body, err := encode(r)
	if err != nil {
		return Entry{}, fmt.Errorf("store: encode reading: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO latest_reading (slot, reading, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (slot) DO UPDATE SET
		reading = EXCLUDED.reading,
		updated_at = EXCLUDED.updated_at`,
		body, e.ReceivedAt); err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reading_history (id, device_id, reading, timestamp_unix_ms, received_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, r.DeviceID, body, r.Timestamp, e.ReceivedAt); err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, unavailable("put reading", err)
	}
	return e, nil
}

func (p *Postgres) Latest(ctx context.Context) (types.SensorReading, bool, error) {
	var body []byte
	err := p.pool.QueryRow(ctx, `SELECT reading FROM latest_reading WHERE slot = 1`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.SensorReading{}, false, nil
	}
	if err != nil {
		return types.SensorReading{}, false, unavailable("latest", err)
	}
	r, err := decodeReading(body)
	if err != nil {
		return types.SensorReading{}, false, fmt.Errorf("store: latest: %w", err)
	}
	return r, true, nil
}

func (p *Postgres) SetCurrentHealth(ctx context.Context, rec types.HealthRecord) error {
	body, err := encode(rec)
	if err != nil {
		return fmt.Errorf("store: encode health record: %w", err)
	}
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO current_health (slot, record, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (slot) DO UPDATE SET
		record = EXCLUDED.record,
		updated_at = EXCLUDED.updated_at`,
		body, p.now().UTC()); err != nil {
		return unavailable("set current health", err)
	}
	return nil
}

func (p *Postgres) CurrentHealth(ctx context.Context) (types.HealthRecord, bool, error) {
	var body []byte
	err := p.pool.QueryRow(ctx, `SELECT record FROM current_health WHERE slot = 1`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.HealthRecord{}, false, nil
	}
	if err != nil {
		return types.HealthRecord{}, false, unavailable("current health", err)
	}
	rec, err := decodeHealth(body)
	if err != nil {
		return types.HealthRecord{}, false, fmt.Errorf("store: current health: %w", err)
	}
	return rec, true, nil
}

func (p *Postgres) History(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id::text, reading, received_at FROM reading_history ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("history", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e    Entry
			body []byte
		)
		if err := rows.Scan(&e.ID, &body, &e.ReceivedAt); err != nil {
			return nil, unavailable("history", err)
		}
		if e.Reading, err = decodeReading(body); err != nil {
			return nil, fmt.Errorf("store: history: %w", err)
		}
		e.ReceivedAt = e.ReceivedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("history", err)
	}
	reverse(out)
	return out, nil
}

func (p *Postgres) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM reading_history WHERE received_at < $1`, before)
	if err != nil {
		return 0, unavailable("prune", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
