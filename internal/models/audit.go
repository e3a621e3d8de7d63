package models

import (
	"time"

	"github.com/starford/tariffsync/internal/hscode"
)

// Action is the pipeline stage that produced an audit entry.
type Action string

const (
	ActionFetch    Action = "fetch"
	ActionValidate Action = "validate"
	ActionDedup    Action = "dedup"
	ActionCommit   Action = "commit"
)

// Outcome is the terminal result for one identifier in a run.
type Outcome string

const (
	OutcomeCommitted   Outcome = "committed"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeRolledBack  Outcome = "rolled_back"
)

// AuditEntry is an append-only record of one terminal outcome.
type AuditEntry struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Code      hscode.Code   `json:"code"`
	Action    Action        `json:"action"`
	Outcome   Outcome       `json:"outcome"`
	Duration  time.Duration `json:"duration_ns"`
	Attempts  int           `json:"attempts,omitempty"`
	Message   string        `json:"message,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// AuditFilter narrows ListAudit queries. Zero fields match everything.
type AuditFilter struct {
	RunID   string
	Code    hscode.Code
	Outcome Outcome
	Limit   int
}

// OutcomeCount is one row of the health aggregate.
type OutcomeCount struct {
	Outcome       Outcome `json:"outcome"`
	Count         int     `json:"count"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
}
