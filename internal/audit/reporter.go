// Package audit records one entry per terminal outcome and aggregates the
// end-of-run summary.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/metrics"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

// Live event types published to the Sink.
const (
	EventRecordCommitted = "record.committed"
	EventBatchCommitted  = "batch.committed"
	EventBatchRolledBack = "batch.rolled_back"
	EventRunProgress     = "run.progress"
	EventRunFinished     = "run.finished"
)

// Sink receives live run events. Implementations must not block.
type Sink interface {
	Event(kind string, data any)
	Progress(s models.Summary)
}

type nopSink struct{}

func (nopSink) Event(string, any)       {}
func (nopSink) Progress(models.Summary) {}

// Reporter is owned by the pipeline's consumer goroutine and is not safe for
// concurrent use.
type Reporter struct {
	writer  store.AuditWriter
	sink    Sink
	logger  *slog.Logger
	started time.Time
	sum     models.Summary
}

// NewReporter returns a reporter for runID. sink may be nil.
func NewReporter(runID string, w store.AuditWriter, sink Sink, logger *slog.Logger) *Reporter {
	if sink == nil {
		sink = nopSink{}
	}
	return &Reporter{
		writer:  w,
		sink:    sink,
		logger:  logger.With("component", "audit", "run_id", runID),
		started: time.Now(),
		sum:     models.Summary{RunID: runID, Status: models.RunRunning},
	}
}

// Outcome writes one audit entry and counts it. Write failures are logged and
// otherwise ignored.
func (r *Reporter) Outcome(ctx context.Context, e models.AuditEntry) {
	e.RunID = r.sum.RunID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.sum.Attempted++
	switch e.Outcome {
	case models.OutcomeCommitted:
		r.sum.Committed++
	case models.OutcomeUnchanged:
		r.sum.Unchanged++
	case models.OutcomeRejected:
		r.sum.Rejected++
	case models.OutcomeFetchFailed:
		r.sum.Failed++
	case models.OutcomeRolledBack:
		r.sum.RolledBack++
	}
	metrics.Outcomes.WithLabelValues(string(e.Outcome)).Inc()

	if err := r.writer.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Warn("audit write failed",
			slog.String("code", e.Code.String()),
			slog.String("outcome", string(e.Outcome)),
			slog.String("error", err.Error()))
	}
	if e.Outcome == models.OutcomeRejected || e.Outcome == models.OutcomeFetchFailed {
		r.logger.Info("record not committed",
			slog.String("code", e.Code.String()),
			slog.String("outcome", string(e.Outcome)),
			slog.String("message", e.Message))
	}
	r.sink.Progress(r.sum)
}

// BatchCommitted audits every record of a committed batch.
func (r *Reporter) BatchCommitted(ctx context.Context, seq int, changes []models.ChangeEntry, took time.Duration) {
	r.sum.Batches++
	per := took
	if n := len(changes); n > 0 {
		per = took / time.Duration(n)
	}
	codes := make([]hscode.Code, 0, len(changes))
	for _, c := range changes {
		r.Outcome(ctx, models.AuditEntry{
			Code:     c.Code,
			Action:   models.ActionCommit,
			Outcome:  models.OutcomeCommitted,
			Duration: per,
			Message:  string(c.Kind),
		})
		r.sink.Event(EventRecordCommitted, map[string]any{
			"code":    c.Code,
			"kind":    c.Kind,
			"version": c.NewVersion,
			"fields":  c.Summary.Fields,
		})
		codes = append(codes, c.Code)
	}
	r.sink.Event(EventBatchCommitted, map[string]any{"run_id": r.sum.RunID, "seq": seq, "codes": codes})
	r.logger.Info("batch committed", slog.Int("seq", seq), slog.Int("records", len(changes)),
		slog.Duration("took", took))
}

// BatchRolledBack audits every record of a batch whose transaction was
// rolled back.
func (r *Reporter) BatchRolledBack(ctx context.Context, seq int, codes []hscode.Code, cause error) {
	r.logger.Warn("batch rolled back", slog.Int("seq", seq), slog.Int("records", len(codes)),
		slog.String("error", cause.Error()))
	for _, c := range codes {
		r.Outcome(ctx, models.AuditEntry{
			Code:    c,
			Action:  models.ActionCommit,
			Outcome: models.OutcomeRolledBack,
			Message: cause.Error(),
		})
	}
	r.sink.Event(EventBatchRolledBack, map[string]any{
		"run_id": r.sum.RunID, "seq": seq, "codes": codes, "error": cause.Error(),
	})
}

// SetPlanned records how many identifiers the delta-sync filter emitted.
func (r *Reporter) SetPlanned(n int) { r.sum.Planned = n }

// Discard counts identifiers that were dispatched but never reached an outcome.
func (r *Reporter) Discard(n int) { r.sum.Discarded += n }

// Summary returns the running totals.
func (r *Reporter) Summary() models.Summary { return r.sum }

// Finish seals the summary with its terminal status.
func (r *Reporter) Finish(status models.RunStatus, cause error) models.Summary {
	r.sum.Status = status
	r.sum.Duration = time.Since(r.started)
	if cause != nil {
		r.sum.Error = cause.Error()
	}
	metrics.RunFinished(string(status))
	r.sink.Event(EventRunFinished, r.sum)

	attrs := []any{
		slog.String("status", string(status)),
		slog.Int("planned", r.sum.Planned),
		slog.Int("attempted", r.sum.Attempted),
		slog.Int("committed", r.sum.Committed),
		slog.Int("unchanged", r.sum.Unchanged),
		slog.Int("rejected", r.sum.Rejected),
		slog.Int("failed", r.sum.Failed),
		slog.Int("rolled_back", r.sum.RolledBack),
		slog.Int("discarded", r.sum.Discarded),
		slog.Duration("duration", r.sum.Duration),
	}
	if cause != nil {
		r.logger.Error("run finished", append(attrs, slog.String("error", cause.Error()))...)
	} else {
		r.logger.Info("run finished", attrs...)
	}
	return r.sum
}
