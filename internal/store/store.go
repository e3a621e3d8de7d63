// Package store defines the durable-store contract used by the pipeline and
// provides its SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

// ErrConstraint marks a write rejected by an integrity constraint (unique,
// foreign key, stale version). Batches failing with it are rolled back and the
// run continues; any other write error is treated as the store being unavailable.
var ErrConstraint = errors.New("store: constraint violation")

// Capture is the last persisted state of one identifier.
type Capture struct {
	Code        hscode.Code
	Fingerprint string
	Version     int
	CapturedAt  time.Time // last content change
	CheckedAt   time.Time // last time the source was seen, changed or not
}

// Batch is one atomic unit of work.
type Batch struct {
	RunID   string
	Seq     int
	At      time.Time
	Records []models.CanonicalRecord
	// Touched identifiers were fetched but unchanged; only their check time moves.
	Touched []hscode.Code
}

// Codes returns the identifiers of the accepted records, in batch order.
func (b Batch) Codes() []hscode.Code {
	out := make([]hscode.Code, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Code
	}
	return out
}

// CommitResult describes a successful batch commit.
type CommitResult struct {
	Changes []models.ChangeEntry
	Touched int
}

// CaptureReader is the read side used by the delta-sync filter and dedup gate.
type CaptureReader interface {
	Ping(ctx context.Context) error
	// LastCapture returns ok=false for never-captured identifiers.
	LastCapture(ctx context.Context, code hscode.Code) (Capture, bool, error)
}

// BatchWriter commits batches atomically.
type BatchWriter interface {
	CommitBatch(ctx context.Context, b Batch) (CommitResult, error)
}

// AuditWriter appends audit entries.
type AuditWriter interface {
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// RunWriter records run bookkeeping and checkpoints.
type RunWriter interface {
	BeginRun(ctx context.Context, r models.Run) error
	FinishRun(ctx context.Context, r models.Run) error
	// CommittedCodes returns every identifier checkpointed by the run.
	CommittedCodes(ctx context.Context, runID string) (map[hscode.Code]struct{}, error)
}

// PipelineStore is everything a pipeline run writes to.
type PipelineStore interface {
	CaptureReader
	BatchWriter
	AuditWriter
	RunWriter
}

// Reader serves the query surfaces (HTTP, MCP, export).
type Reader interface {
	GetRecord(ctx context.Context, code hscode.Code) (models.CanonicalRecord, error)
	RecordVersions(ctx context.Context, code hscode.Code) ([]models.CanonicalRecord, error)
	RecordChanges(ctx context.Context, code hscode.Code, limit int) ([]models.ChangeEntry, error)
	SearchRecords(ctx context.Context, q string, limit int) ([]models.RecordSummary, error)
	// ListRecords pages through current records in code order, after the given code.
	ListRecords(ctx context.Context, after hscode.Code, limit int) ([]models.CanonicalRecord, error)
	ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error)
	AuditCounts(ctx context.Context, runID string) ([]models.OutcomeCount, error)
	LatestRun(ctx context.Context) (models.Run, error)
	GetRun(ctx context.Context, id string) (models.Run, error)
}

// Store is a full durable store.
type Store interface {
	PipelineStore
	Reader
	Close() error
}

// DefaultLimit caps list queries when the caller passes no limit.
const DefaultLimit = 50

// Limit clamps n to [1, 500], defaulting to DefaultLimit.
func Limit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > 500:
		return 500
	}
	return n
}
