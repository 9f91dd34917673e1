package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSnapshots = `
CREATE TABLE IF NOT EXISTS note_snapshots (
    slot          SMALLINT     PRIMARY KEY CHECK (slot = 1),
    session_id    TEXT         NOT NULL,
    specialty     TEXT         NOT NULL DEFAULT '',
    last_modified TIMESTAMPTZ  NOT NULL DEFAULT now(),
    payload       JSONB        NOT NULL
);`

// PostgresStore keeps the snapshot in a single-row PostgreSQL table. The
// payload is stored as JSONB so it can be inspected with ordinary SQL.
//
// All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to the database at dsn and creates the snapshot
// table if it does not exist.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persist: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlSnapshots); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save replaces the stored snapshot.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: encode snapshot: %w", err)
	}
	const q = `
INSERT INTO note_snapshots (slot, session_id, specialty, last_modified, payload)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (slot) DO UPDATE SET
    session_id    = EXCLUDED.session_id,
    specialty     = EXCLUDED.specialty,
    last_modified = EXCLUDED.last_modified,
    payload       = EXCLUDED.payload`
	if _, err := s.pool.Exec(ctx, q, snap.SessionID, snap.Specialty, snap.LastModified.UTC(), payload); err != nil {
		return fmt.Errorf("persist: save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot or [ErrNoSnapshot].
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM note_snapshots WHERE slot = 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("persist: load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("persist: decode snapshot: %w", err)
	}
	return snap, nil
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
