package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

// AppendAudit inserts one audit entry.
func (s *Store) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (run_id, hs10, action, outcome, duration_ns, attempts, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.RunID, string(e.Code), string(e.Action), string(e.Outcome), int64(e.Duration), e.Attempts, e.Message,
		e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("pgstore: append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries matching f, newest first.
func (s *Store) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	where, args := store.AuditWhere(f, dollar)
	args = append(args, store.Limit(f.Limit))
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, hs10, action, outcome, duration_ns, attempts, message, created_at
		FROM audit_log `+where+` ORDER BY id DESC LIMIT `+dollar(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list audit: %w", err)
	}
	defer rows.Close()

	out := []models.AuditEntry{}
	for rows.Next() {
		var (
			e                     models.AuditEntry
			code, action, outcome string
			dur                   int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &code, &action, &outcome, &dur, &e.Attempts, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Code = hscode.Code(code)
		e.Action = models.Action(action)
		e.Outcome = models.Outcome(outcome)
		e.Duration = time.Duration(dur)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditCounts aggregates outcomes for one run, or for all runs when runID is empty.
func (s *Store) AuditCounts(ctx context.Context, runID string) ([]models.OutcomeCount, error) {
	where, args := store.AuditWhere(models.AuditFilter{RunID: runID}, dollar)
	rows, err := s.pool.Query(ctx, `
		SELECT outcome, COUNT(*)::int, COALESCE(AVG(duration_ns), 0)::bigint
		FROM audit_log `+where+` GROUP BY outcome ORDER BY outcome`, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: audit counts: %w", err)
	}
	defer rows.Close()

	out := []models.OutcomeCount{}
	for rows.Next() {
		var (
			c       models.OutcomeCount
			outcome string
			avgNs   int64
		)
		if err := rows.Scan(&outcome, &c.Count, &avgNs); err != nil {
			return nil, err
		}
		c.Outcome = models.Outcome(outcome)
		c.AvgDurationMs = time.Duration(avgNs).Milliseconds()
		out = append(out, c)
	}
	return out, rows.Err()
}
