package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
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
	content         TEXT NOT NULL,
	captured_at     DATETIME NOT NULL,
	checked_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS record_versions (
	hs10        TEXT NOT NULL,
	version     INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	content     TEXT NOT NULL,
	captured_at DATETIME NOT NULL,
	run_id      TEXT NOT NULL,
	PRIMARY KEY (hs10, version)
);

CREATE TABLE IF NOT EXISTS record_changes (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	hs10            TEXT NOT NULL,
	kind            TEXT NOT NULL,
	old_version     INTEGER NOT NULL DEFAULT 0,
	new_version     INTEGER NOT NULL,
	old_fingerprint TEXT NOT NULL DEFAULT '',
	new_fingerprint TEXT NOT NULL,
	old_value       TEXT,
	new_value       TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '{}',
	run_id          TEXT NOT NULL,
	changed_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	status      TEXT NOT NULL,
	params      TEXT NOT NULL DEFAULT '{}',
	summary     TEXT NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id       TEXT NOT NULL,
	batch_seq    INTEGER NOT NULL,
	codes        TEXT NOT NULL,
	last_code    TEXT NOT NULL,
	committed_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, batch_seq)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	hs10        TEXT NOT NULL,
	action      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	duration_ns INTEGER NOT NULL DEFAULT 0,
	attempts    INTEGER NOT NULL DEFAULT 0,
	message     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_designation ON records(designation);
CREATE INDEX IF NOT EXISTS idx_changes_hs10 ON record_changes(hs10, id);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_log(run_id, outcome);
CREATE INDEX IF NOT EXISTS idx_audit_hs10 ON audit_log(hs10);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := initSearch(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: init search: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// classify wraps SQLite constraint failures in ErrConstraint.
func classify(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("store: %s: %w: %w", op, ErrConstraint, err)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
