package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

// BeginRun inserts a run row in the running state.
func (db *DB) BeginRun(ctx context.Context, r models.Run) error {
	params, _ := json.Marshal(r.Params)
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, params) VALUES (?, ?, ?, ?)
	`, r.ID, r.StartedAt.UTC(), string(models.RunRunning), string(params))
	if err != nil {
		return classify("begin run", err)
	}
	return nil
}

// FinishRun stores the terminal status and summary of a run.
func (db *DB) FinishRun(ctx context.Context, r models.Run) error {
	summary, _ := json.Marshal(r.Summary)
	res, err := db.conn.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, summary = ?, error = ? WHERE id = ?
	`, nullTime(r.FinishedAt), string(r.Status), string(summary), r.Summary.Error, r.ID)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", r.ID, apperr.ErrNotFound)
	}
	return nil
}

// CommittedCodes returns the union of all checkpointed codes of runID.
func (db *DB) CommittedCodes(ctx context.Context, runID string) (map[hscode.Code]struct{}, error) {
	if _, err := db.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT codes FROM run_checkpoints WHERE run_id = ? ORDER BY batch_seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: committed codes: %w", err)
	}
	defer rows.Close()

	out := make(map[hscode.Code]struct{})
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if err := MergeCodes(out, []byte(raw)); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

// MergeCodes decodes a checkpoint code list into set.
func MergeCodes(set map[hscode.Code]struct{}, raw []byte) error {
	var codes []hscode.Code
	if err := json.Unmarshal(raw, &codes); err != nil {
		return fmt.Errorf("store: decode checkpoint: %w", err)
	}
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, params, summary`

func scanRun(row rowScanner) (models.Run, error) {
	var (
		r               models.Run
		finished        sql.NullTime
		status          string
		params, summary string
	)
	err := row.Scan(&r.ID, &r.StartedAt, &finished, &status, &params, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return r, apperr.ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("store: scan run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	if err := DecodeRunJSON(&r, []byte(params), []byte(summary)); err != nil {
		return r, err
	}
	return r, nil
}

// DecodeRunJSON fills the JSON columns of a run.
func DecodeRunJSON(r *models.Run, params, summary []byte) error {
	if err := json.Unmarshal(params, &r.Params); err != nil {
		return fmt.Errorf("store: decode run %s params: %w", r.ID, err)
	}
	if err := json.Unmarshal(summary, &r.Summary); err != nil {
		return fmt.Errorf("store: decode run %s summary: %w", r.ID, err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (db *DB) LatestRun(ctx context.Context) (models.Run, error) {
	r, err := scanRun(db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	if err != nil {
		return r, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// GetRun returns one run by ID.
func (db *DB) GetRun(ctx context.Context, id string) (models.Run, error) {
	r, err := scanRun(db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return r, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}
