//go:build sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

func initSearch(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			hs10 UNINDEXED,
			designation,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func searchUpsert(ctx context.Context, tx *sql.Tx, code hscode.Code, designation string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM records_fts WHERE hs10 = ?`, string(code)); err != nil {
		return fmt.Errorf("store: delete fts %s: %w", code, err)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO records_fts (hs10, designation) VALUES (?, ?)`,
		string(code), designation)
	if err != nil {
		return fmt.Errorf("store: upsert fts %s: %w", code, err)
	}
	return nil
}

// matchQuery turns free text into an FTS5 query: every word must appear,
// each as a prefix. Quotes are stripped so user input cannot inject syntax.
func matchQuery(q string) string {
	var terms []string
	for _, w := range strings.Fields(q) {
		w = strings.ReplaceAll(w, `"`, "")
		if w != "" {
			terms = append(terms, `"`+w+`"*`)
		}
	}
	return strings.Join(terms, " ")
}

// SearchRecords matches q against designations (full text, diacritics folded)
// and codes (prefix).
func (db *DB) SearchRecords(ctx context.Context, q string, limit int) ([]models.RecordSummary, error) {
	_, prefix := SearchPatterns(q)
	match := matchQuery(q)
	if match == "" {
		return []models.RecordSummary{}, nil
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT hs10, designation, version, fingerprint, captured_at FROM records
		WHERE hs10 IN (SELECT hs10 FROM records_fts WHERE records_fts MATCH ?) OR hs10 LIKE ?
		ORDER BY hs10 LIMIT ?
	`, match, prefix, Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return scanSummaries(rows)
}
