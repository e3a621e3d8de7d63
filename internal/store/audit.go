package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

// AppendAudit inserts one audit entry.
func (db *DB) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO audit_log (run_id, hs10, action, outcome, duration_ns, attempts, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, string(e.Code), string(e.Action), string(e.Outcome), int64(e.Duration), e.Attempts, e.Message,
		e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

// AuditWhere renders the filter as a WHERE clause using placeholder(n) for
// the n-th (1-based) argument.
func AuditWhere(f models.AuditFilter, placeholder func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, col+" = "+placeholder(len(args)))
	}
	if f.RunID != "" {
		add("run_id", f.RunID)
	}
	if f.Code != "" {
		add("hs10", string(f.Code))
	}
	if f.Outcome != "" {
		add("outcome", string(f.Outcome))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ListAudit returns audit entries matching f, newest first.
func (db *DB) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	where, args := AuditWhere(f, func(int) string { return "?" })
	args = append(args, Limit(f.Limit))
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, run_id, hs10, action, outcome, duration_ns, attempts, message, created_at
		FROM audit_log `+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list audit: %w", err)
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
func (db *DB) AuditCounts(ctx context.Context, runID string) ([]models.OutcomeCount, error) {
	where, args := AuditWhere(models.AuditFilter{RunID: runID}, func(int) string { return "?" })
	rows, err := db.conn.QueryContext(ctx, `
		SELECT outcome, COUNT(*), CAST(COALESCE(AVG(duration_ns), 0) AS INTEGER)
		FROM audit_log `+where+` GROUP BY outcome ORDER BY outcome`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: audit counts: %w", err)
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
