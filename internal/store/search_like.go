//go:build !sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

func initSearch(_ *sql.DB) error { return nil }

// Designations live in the records table already.
func searchUpsert(_ context.Context, _ *sql.Tx, _ hscode.Code, _ string) error { return nil }

// SearchRecords matches q against designations (substring) and codes (prefix).
func (db *DB) SearchRecords(ctx context.Context, q string, limit int) ([]models.RecordSummary, error) {
	designation, prefix := SearchPatterns(q)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT hs10, designation, version, fingerprint, captured_at FROM records
		WHERE designation LIKE ? ESCAPE '\' OR hs10 LIKE ?
		ORDER BY hs10 LIMIT ?
	`, designation, prefix, Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return scanSummaries(rows)
}
