package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tariffsync/internal/audit"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type nopAudit struct{}

func (nopAudit) AppendAudit(context.Context, models.AuditEntry) error { return nil }

// scriptedWriter fails the commits listed in failures with the given error.
type scriptedWriter struct {
	calls    int
	batches  []store.Batch
	failures map[int]error
}

func (w *scriptedWriter) CommitBatch(_ context.Context, b store.Batch) (store.CommitResult, error) {
	w.calls++
	if err, ok := w.failures[w.calls]; ok {
		return store.CommitResult{}, err
	}
	w.batches = append(w.batches, b)
	res := store.CommitResult{Touched: len(b.Touched)}
	for _, r := range b.Records {
		res.Changes = append(res.Changes, models.ChangeEntry{Code: r.Code, Kind: models.ChangeCreated, NewVersion: r.Version})
	}
	return res, nil
}

func rec(i int) models.CanonicalRecord {
	return models.CanonicalRecord{
		RecordContent: models.RecordContent{Code: hscode.MustParse(fmt.Sprintf("010121%04d", i))},
		Version:       1,
	}
}

func newCommitter(w store.BatchWriter, size, attempts int) (*Committer, *audit.Reporter) {
	rep := audit.NewReporter("run-1", nopAudit{}, nil, quiet)
	c := New("run-1", w, rep, Config{Size: size, Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, quiet)
	return c, rep
}

func TestCommitter_ThresholdAndFlush(t *testing.T) {
	w := &scriptedWriter{}
	c, rep := newCommitter(w, 3, 1)
	ctx := context.Background()

	for i := range 7 {
		require.NoError(t, c.Add(ctx, rec(i)))
	}
	assert.Len(t, w.batches, 2)
	assert.Equal(t, 1, c.Pending())

	require.NoError(t, c.Flush(ctx))
	require.Len(t, w.batches, 3)
	assert.Equal(t, []int{3, 3, 1}, []int{len(w.batches[0].Records), len(w.batches[1].Records), len(w.batches[2].Records)})
	assert.Equal(t, 3, w.batches[2].Seq)
	assert.Equal(t, 0, c.Pending())

	sum := rep.Summary()
	assert.Equal(t, 7, sum.Committed)
	assert.Equal(t, 3, sum.Batches)
}

func TestCommitter_TouchesDoNotCount(t *testing.T) {
	w := &scriptedWriter{}
	c, _ := newCommitter(w, 2, 1)
	ctx := context.Background()

	require.NoError(t, c.Touch(ctx, "0101990000"))
	require.NoError(t, c.Add(ctx, rec(1)))
	assert.Empty(t, w.batches, "a touch must not fill the batch")
	require.NoError(t, c.Add(ctx, rec(2)))
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0].Touched, 1)

	require.NoError(t, c.Touch(ctx, "0101980000"))
	require.NoError(t, c.Touch(ctx, "0101970000"))
	require.Len(t, w.batches, 2, "touch-only batch flushes at the threshold")
	assert.Empty(t, w.batches[1].Records)
	assert.Equal(t, 1, w.batches[1].Seq, "touch-only batches do not take a sequence number")
}

func TestCommitter_ConstraintRollsBackAndContinues(t *testing.T) {
	w := &scriptedWriter{failures: map[int]error{2: fmt.Errorf("dup: %w", store.ErrConstraint)}}
	c, rep := newCommitter(w, 2, 3)
	ctx := context.Background()

	for i := range 6 {
		require.NoError(t, c.Add(ctx, rec(i)))
	}
	assert.Equal(t, 3, w.calls, "constraint errors are not retried")
	sum := rep.Summary()
	assert.Equal(t, 4, sum.Committed)
	assert.Equal(t, 2, sum.RolledBack)
}

func TestCommitter_TransientRetried(t *testing.T) {
	w := &scriptedWriter{failures: map[int]error{1: errors.New("database is locked")}}
	c, rep := newCommitter(w, 1, 3)

	require.NoError(t, c.Add(context.Background(), rec(1)))
	assert.Equal(t, 2, w.calls)
	assert.Equal(t, 1, rep.Summary().Committed)
}

func TestCommitter_PersistentFailureIsFatal(t *testing.T) {
	down := errors.New("connection refused")
	w := &scriptedWriter{failures: map[int]error{2: down, 3: down}}
	c, rep := newCommitter(w, 1, 2)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, rec(1)))
	err := c.Add(ctx, rec(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 0, c.Pending(), "the batch is reset after a failed attempt")

	sum := rep.Summary()
	assert.Equal(t, 1, sum.Committed)
	assert.Equal(t, 1, sum.RolledBack)
}
