package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

// BeginRun inserts a run row in the running state.
func (s *Store) BeginRun(ctx context.Context, r models.Run) error {
	params, _ := json.Marshal(r.Params)
	_, err := s.pool.Exec(ctx, `INSERT INTO runs (id, started_at, status, params) VALUES ($1, $2, $3, $4)`,
		r.ID, r.StartedAt.UTC(), string(models.RunRunning), params)
	if err != nil {
		return classify("begin run", err)
	}
	return nil
}

// FinishRun stores the terminal status and summary of a run.
func (s *Store) FinishRun(ctx context.Context, r models.Run) error {
	summary, _ := json.Marshal(r.Summary)
	var finished *time.Time
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt.UTC()
		finished = &t
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET finished_at = $1, status = $2, summary = $3, error = $4 WHERE id = $5
	`, finished, string(r.Status), summary, r.Summary.Error, r.ID)
	if err != nil {
		return fmt.Errorf("pgstore: finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", r.ID, apperr.ErrNotFound)
	}
	return nil
}

// CommittedCodes returns the union of all checkpointed codes of runID.
func (s *Store) CommittedCodes(ctx context.Context, runID string) (map[hscode.Code]struct{}, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT codes::text FROM run_checkpoints WHERE run_id = $1 ORDER BY batch_seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: committed codes: %w", err)
	}
	defer rows.Close()

	out := make(map[hscode.Code]struct{})
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if err := store.MergeCodes(out, []byte(raw)); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

const runColumns = `id, started_at, finished_at, status, params::text, summary::text`

func (s *Store) queryRun(ctx context.Context, query string, args ...any) (models.Run, error) {
	var (
		r               models.Run
		finished        *time.Time
		status          string
		params, summary string
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(&r.ID, &r.StartedAt, &finished, &status, &params, &summary)
	if isNoRows(err) {
		return r, apperr.ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("pgstore: scan run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if finished != nil {
		r.FinishedAt = *finished
	}
	return r, store.DecodeRunJSON(&r, []byte(params), []byte(summary))
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (models.Run, error) {
	r, err := s.queryRun(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`)
	if err != nil {
		return r, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// GetRun returns one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (models.Run, error) {
	r, err := s.queryRun(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if err != nil {
		return r, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}
