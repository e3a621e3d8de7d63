package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type memWriter struct {
	entries []models.AuditEntry
	err     error
}

func (m *memWriter) AppendAudit(_ context.Context, e models.AuditEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

type memSink struct {
	events   []string
	progress int
}

func (s *memSink) Event(kind string, _ any)  { s.events = append(s.events, kind) }
func (s *memSink) Progress(models.Summary)  { s.progress++ }

func TestReporter_Counts(t *testing.T) {
	w := &memWriter{}
	sink := &memSink{}
	r := NewReporter("run-1", w, sink, quiet)
	ctx := context.Background()

	r.SetPlanned(6)
	r.Outcome(ctx, models.AuditEntry{Code: "0101210000", Action: models.ActionFetch, Outcome: models.OutcomeFetchFailed})
	r.Outcome(ctx, models.AuditEntry{Code: "0101290000", Action: models.ActionValidate, Outcome: models.OutcomeRejected})
	r.Outcome(ctx, models.AuditEntry{Code: "0101300000", Action: models.ActionDedup, Outcome: models.OutcomeUnchanged})
	r.BatchCommitted(ctx, 1, []models.ChangeEntry{
		{Code: "0102210000", Kind: models.ChangeCreated, NewVersion: 1},
		{Code: "0102290000", Kind: models.ChangeUpdated, NewVersion: 3},
	}, 10*time.Millisecond)
	r.BatchRolledBack(ctx, 2, []hscode.Code{"0103100000"}, errors.New("constraint"))

	sum := r.Finish(models.RunCompleted, nil)
	assert.Equal(t, 6, sum.Attempted)
	assert.Equal(t, 2, sum.Committed)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.RolledBack)
	assert.Equal(t, 1, sum.Batches)
	assert.True(t, sum.Completed())

	require.Len(t, w.entries, 6)
	for _, e := range w.entries {
		assert.Equal(t, "run-1", e.RunID)
		assert.False(t, e.CreatedAt.IsZero())
	}
	assert.Equal(t, 5*time.Millisecond, w.entries[3].Duration)
	assert.Contains(t, sink.events, EventBatchCommitted)
	assert.Contains(t, sink.events, EventBatchRolledBack)
	assert.Equal(t, EventRunFinished, sink.events[len(sink.events)-1])
	assert.Equal(t, 6, sink.progress)
}

func TestReporter_WriteFailureIsNotFatal(t *testing.T) {
	w := &memWriter{err: errors.New("database is locked")}
	r := NewReporter("run-1", w, nil, quiet)

	r.Outcome(context.Background(), models.AuditEntry{Code: "0101210000", Outcome: models.OutcomeRejected})
	assert.Equal(t, 1, r.Summary().Rejected)
}

func TestReporter_FinishAborted(t *testing.T) {
	r := NewReporter("run-1", &memWriter{}, nil, quiet)
	r.SetPlanned(10)
	r.Discard(4)
	sum := r.Finish(models.RunAborted, errors.New("store unavailable"))
	assert.Equal(t, models.RunAborted, sum.Status)
	assert.Equal(t, "store unavailable", sum.Error)
	assert.Equal(t, 4, sum.Discarded)
	assert.Contains(t, sum.String(), "aborted after 0 of 10")
}
