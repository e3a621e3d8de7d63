// Package batch buffers accepted records and commits them in atomic
// micro-batches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/tariffsync/internal/audit"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/metrics"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

// DefaultSize is the default number of accepted records per batch.
const DefaultSize = 50

// Config tunes the committer.
type Config struct {
	Size      int           // accepted records per batch
	Attempts  int           // commit attempts for non-constraint store errors
	BaseDelay time.Duration // first retry interval
	MaxDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = max(5*time.Second, c.BaseDelay)
	}
	return c
}

// Committer owns the open batch. It is used from a single goroutine.
type Committer struct {
	runID    string
	writer   store.BatchWriter
	reporter *audit.Reporter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	seq     int
	records []models.CanonicalRecord
	touched []hscode.Code
}

// New returns a committer for runID.
func New(runID string, w store.BatchWriter, reporter *audit.Reporter, cfg Config, logger *slog.Logger) *Committer {
	cfg = cfg.withDefaults()
	return &Committer{
		runID:    runID,
		writer:   w,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger.With("component", "batch", "run_id", runID),
		now:      time.Now,
		records:  make([]models.CanonicalRecord, 0, cfg.Size),
	}
}

// Size returns the batch threshold.
func (c *Committer) Size() int { return c.cfg.Size }

// Pending returns the number of buffered accepted records.
func (c *Committer) Pending() int { return len(c.records) }

// Add buffers an accepted record and commits once the batch is full. A
// returned error means the store is unavailable and the run must stop.
func (c *Committer) Add(ctx context.Context, rec models.CanonicalRecord) error {
	c.records = append(c.records, rec)
	if len(c.records) >= c.cfg.Size {
		return c.Flush(ctx)
	}
	return nil
}

// Touch buffers an unchanged identifier whose check time must be refreshed.
// Touches ride along with the next batch and do not count toward its size.
func (c *Committer) Touch(ctx context.Context, code hscode.Code) error {
	c.touched = append(c.touched, code)
	if len(c.touched) >= c.cfg.Size {
		return c.Flush(ctx)
	}
	return nil
}

// Flush commits whatever is buffered. Constraint violations roll the batch
// back and are reported per record; they are not returned. The buffer is
// empty afterwards whatever the outcome.
func (c *Committer) Flush(ctx context.Context) error {
	if len(c.records) == 0 && len(c.touched) == 0 {
		return nil
	}
	if len(c.records) > 0 {
		c.seq++
	}
	b := store.Batch{
		RunID:   c.runID,
		Seq:     c.seq,
		At:      c.now(),
		Records: c.records,
		Touched: c.touched,
	}
	defer c.reset()

	start := time.Now()
	res, err := c.commit(ctx, b)
	metrics.ObserveBatch(start)

	switch {
	case err == nil:
		metrics.BatchCommits.WithLabelValues("committed").Inc()
		if len(b.Records) > 0 {
			c.reporter.BatchCommitted(ctx, b.Seq, res.Changes, time.Since(start))
		}
		return nil
	case errors.Is(err, store.ErrConstraint):
		metrics.BatchCommits.WithLabelValues("rolled_back").Inc()
		c.reporter.BatchRolledBack(ctx, b.Seq, b.Codes(), err)
		return nil
	default:
		metrics.BatchCommits.WithLabelValues("failed").Inc()
		c.reporter.BatchRolledBack(ctx, b.Seq, b.Codes(), err)
		return fmt.Errorf("batch %d: %w", b.Seq, err)
	}
}

func (c *Committer) commit(ctx context.Context, b store.Batch) (store.CommitResult, error) {
	var res store.CommitResult
	op := func() error {
		var err error
		res, err = c.writer.CommitBatch(ctx, b)
		if errors.Is(err, store.ErrConstraint) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.BaseDelay
	eb.MaxInterval = c.cfg.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.Attempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Warn("batch commit failed, retrying",
			slog.Int("seq", b.Seq),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	})
	return res, err
}

// reset drops the buffers instead of truncating them: the writer may still
// hold the previous batch's slices.
func (c *Committer) reset() {
	c.records = make([]models.CanonicalRecord, 0, c.cfg.Size)
	c.touched = nil
}
