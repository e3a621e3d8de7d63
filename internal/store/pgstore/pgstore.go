// Package pgstore implements store.Store on PostgreSQL via pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starford/tariffsync/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sections (
	code  TEXT PRIMARY KEY,
	label TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chapters (
	code         TEXT PRIMARY KEY,
	label        TEXT NOT NULL DEFAULT '',
	section_code TEXT NOT NULL REFERENCES sections(code)
);
CREATE TABLE IF NOT EXISTS headings (
	code         TEXT PRIMARY KEY,
	label        TEXT NOT NULL DEFAULT '',
	chapter_code TEXT NOT NULL REFERENCES chapters(code)
);
CREATE TABLE IF NOT EXISTS subheadings (
	code         TEXT PRIMARY KEY,
	label        TEXT NOT NULL DEFAULT '',
	heading_code TEXT NOT NULL REFERENCES headings(code)
);
CREATE TABLE IF NOT EXISTS records (
	hs10            TEXT PRIMARY KEY,
	subheading_code TEXT NOT NULL REFERENCES subheadings(code),
	designation     TEXT NOT NULL DEFAULT '',
	version         INTEGER NOT NULL CHECK (version > 0),
	fingerprint     TEXT NOT NULL,
	content         JSONB NOT NULL,
	captured_at     TIMESTAMPTZ NOT NULL,
	checked_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS record_versions (
	hs10        TEXT NOT NULL,
	version     INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	content     JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	run_id      TEXT NOT NULL,
	PRIMARY KEY (hs10, version)
);
CREATE TABLE IF NOT EXISTS record_changes (
	id              BIGSERIAL PRIMARY KEY,
	hs10            TEXT NOT NULL,
	kind            TEXT NOT NULL,
	old_version     INTEGER NOT NULL DEFAULT 0,
	new_version     INTEGER NOT NULL,
	old_fingerprint TEXT NOT NULL DEFAULT '',
	new_fingerprint TEXT NOT NULL,
	old_value       JSONB,
	new_value       JSONB NOT NULL,
	summary         JSONB NOT NULL DEFAULT '{}',
	run_id          TEXT NOT NULL,
	changed_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL,
	params      JSONB NOT NULL DEFAULT '{}',
	summary     JSONB NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id       TEXT NOT NULL,
	batch_seq    INTEGER NOT NULL,
	codes        JSONB NOT NULL,
	last_code    TEXT NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, batch_seq)
);
CREATE TABLE IF NOT EXISTS audit_log (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL,
	hs10        TEXT NOT NULL,
	action      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	duration_ns BIGINT NOT NULL DEFAULT 0,
	attempts    INTEGER NOT NULL DEFAULT 0,
	message     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_hs10 ON record_changes(hs10, id);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_log(run_id, outcome);
CREATE INDEX IF NOT EXISTS idx_audit_hs10 ON audit_log(hs10);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Store is the PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, applies the schema and returns the store.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgstore: ping: %w", err)
	}
	return nil
}

// classify wraps integrity-constraint violations (SQLSTATE class 23) in
// store.ErrConstraint.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("pgstore: %s: %w: %w", op, store.ErrConstraint, err)
	}
	return fmt.Errorf("pgstore: %s: %w", op, err)
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }
