// Package pipeline drives one sync run: delta-sync filter, fetch pool,
// validation, dedup gate and batch commits, with a single consumer
// goroutine owning every store write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/tariffsync/internal/audit"
	"github.com/starford/tariffsync/internal/batch"
	"github.com/starford/tariffsync/internal/deltasync"
	"github.com/starford/tariffsync/internal/fetch"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/normalize"
	"github.com/starford/tariffsync/internal/store"
)

// Defaults applied to zero Params fields.
const (
	DefaultWorkers = 4
)

// Params are the per-run parameters supplied by the orchestrator.
type Params struct {
	Window      time.Duration // freshness window; 0 fetches everything
	BatchSize   int
	Workers     int
	QueueSize   int // bound of the identifier and event queues
	Codes       []hscode.Code
	ResumeRunID string
	Trigger     string
}

func (p Params) withDefaults() Params {
	if p.BatchSize <= 0 {
		p.BatchSize = batch.DefaultSize
	}
	if p.Workers <= 0 {
		p.Workers = DefaultWorkers
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 2 * p.Workers
	}
	return p
}

// Pipeline runs sync runs against one store and one fetcher. Run may be
// called repeatedly but not concurrently.
type Pipeline struct {
	store   store.PipelineStore
	fetcher fetch.Fetcher
	logger  *slog.Logger

	fetchPolicy    fetch.Policy
	commitAttempts int
	commitBase     time.Duration
	commitMax      time.Duration
	sink           audit.Sink
	newID          func() string
	now            func() time.Time
}

// New creates a pipeline.
func New(st store.PipelineStore, f fetch.Fetcher, logger *slog.Logger, opts ...Option) *Pipeline {
	pl := &Pipeline{
		store:       st,
		fetcher:     f,
		logger:      logger.With("component", "pipeline"),
		fetchPolicy: fetch.DefaultPolicy,
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Run executes one run and always returns its summary. The error is non-nil
// only for aborted runs; a cancelled run reports RunCancelled with a nil
// error once its in-flight work has been committed.
func (pl *Pipeline) Run(ctx context.Context, p Params) (models.Summary, error) {
	p = p.withDefaults()
	// Consumer-side writes outlive cancellation so the open batch and the
	// run bookkeeping still land.
	wctx := context.WithoutCancel(ctx)

	run := models.Run{
		ID:        pl.newID(),
		StartedAt: pl.now().UTC(),
		Status:    models.RunRunning,
		Params: models.RunParams{
			Window:      p.Window,
			BatchSize:   p.BatchSize,
			Workers:     p.Workers,
			QueueSize:   p.QueueSize,
			Explicit:    len(p.Codes),
			ResumeRunID: p.ResumeRunID,
			Trigger:     p.Trigger,
		},
	}
	logger := pl.logger.With("run_id", run.ID)
	rep := audit.NewReporter(run.ID, pl.store, pl.sink, logger)

	if err := pl.store.BeginRun(wctx, run); err != nil {
		err = fmt.Errorf("begin run: %w", err)
		return rep.Finish(models.RunAborted, err), err
	}

	logger.Info("run started",
		slog.Int("candidates", len(p.Codes)),
		slog.Duration("window", p.Window),
		slog.Int("batch_size", p.BatchSize),
		slog.Int("workers", p.Workers),
		slog.String("trigger", p.Trigger))

	var skip map[hscode.Code]struct{}
	if p.ResumeRunID != "" {
		var err error
		if skip, err = pl.store.CommittedCodes(wctx, p.ResumeRunID); err != nil {
			err = fmt.Errorf("resume %s: %w", p.ResumeRunID, err)
			return pl.finish(wctx, run, rep, models.RunAborted, err), err
		}
		logger.Info("resuming", slog.String("from_run", p.ResumeRunID), slog.Int("already_committed", len(skip)))
	}

	committer := batch.New(run.ID, pl.store, rep, batch.Config{
		Size:      p.BatchSize,
		Attempts:  pl.commitAttempts,
		BaseDelay: pl.commitBase,
		MaxDelay:  pl.commitMax,
	}, logger)

	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()

	type filterResult struct {
		stats deltasync.Stats
		err   error
	}
	ids := make(chan hscode.Code, p.QueueSize)
	filterDone := make(chan filterResult, 1)
	filter := deltasync.New(pl.store, p.Window, logger)
	go func() {
		st, err := filter.Stream(intakeCtx, p.Codes, skip, ids)
		if err != nil {
			stopIntake()
		}
		filterDone <- filterResult{st, err}
	}()

	events := fetch.NewPool(pl.fetcher, p.Workers, pl.fetchPolicy, logger).Run(intakeCtx, ids, p.QueueSize)

	var fatal error
	discarded := 0
	for ev := range events {
		if fatal != nil {
			discarded++
			continue
		}
		terminal, err := pl.handle(wctx, rep, committer, ev)
		if err != nil {
			fatal = err
			if !terminal {
				discarded++
			}
			stopIntake()
			logger.Error("stopping intake", slog.String("code", ev.Code.String()), slog.String("error", err.Error()))
		}
	}
	// Identifiers queued but never taken by a worker.
	for range ids {
		discarded++
	}

	fr := <-filterDone
	if fr.err != nil && fatal == nil {
		fatal = fr.err
	}
	rep.SetPlanned(fr.stats.Emitted)
	rep.Discard(discarded)

	if err := committer.Flush(wctx); err != nil && fatal == nil {
		fatal = err
	}

	status := models.RunCompleted
	switch {
	case fatal != nil:
		status = models.RunAborted
	case ctx.Err() != nil:
		status = models.RunCancelled
	}
	return pl.finish(wctx, run, rep, status, fatal), fatal
}

func (pl *Pipeline) finish(ctx context.Context, run models.Run, rep *audit.Reporter, status models.RunStatus, cause error) models.Summary {
	sum := rep.Finish(status, cause)
	run.Status = status
	run.FinishedAt = pl.now().UTC()
	run.Summary = sum
	if err := pl.store.FinishRun(ctx, run); err != nil {
		pl.logger.Error("failed to record run result",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
	}
	return sum
}

// handle takes one fetch event to its terminal outcome or into the open
// batch. A returned error is fatal for the run; terminal reports whether the
// event was already accounted for (audited, or handed to the committer) when
// the error occurred.
func (pl *Pipeline) handle(ctx context.Context, rep *audit.Reporter, committer *batch.Committer, ev fetch.Event) (terminal bool, err error) {
	if ev.Err != nil {
		msg := ev.Err.Error()
		if ev.Abandoned {
			msg = fmt.Sprintf("abandoned after %d attempts: run cancelled", ev.Attempts)
		}
		rep.Outcome(ctx, models.AuditEntry{
			Code:     ev.Code,
			Action:   models.ActionFetch,
			Outcome:  models.OutcomeFetchFailed,
			Duration: ev.Duration,
			Attempts: ev.Attempts,
			Message:  msg,
		})
		return true, nil
	}

	start := time.Now()
	if ev.Payload.Code != ev.Code {
		rep.Outcome(ctx, models.AuditEntry{
			Code:     ev.Code,
			Action:   models.ActionValidate,
			Outcome:  models.OutcomeRejected,
			Duration: ev.Duration,
			Attempts: ev.Attempts,
			Message:  fmt.Sprintf("%s: payload for %s", normalize.ReasonIdentifierMismatch, ev.Payload.Code),
		})
		return true, nil
	}

	content, err := normalize.Normalize(ev.Payload)
	if err != nil {
		rep.Outcome(ctx, models.AuditEntry{
			Code:     ev.Code,
			Action:   models.ActionValidate,
			Outcome:  models.OutcomeRejected,
			Duration: ev.Duration + time.Since(start),
			Attempts: ev.Attempts,
			Message:  err.Error(),
		})
		return true, nil
	}

	rec, changed, err := gate(ctx, pl.store, content, pl.now().UTC())
	if errors.Is(err, errUnencodable) {
		rep.Outcome(ctx, models.AuditEntry{
			Code:     ev.Code,
			Action:   models.ActionValidate,
			Outcome:  models.OutcomeRejected,
			Duration: ev.Duration + time.Since(start),
			Attempts: ev.Attempts,
			Message:  fmt.Sprintf("%s: %v", normalize.ReasonMalformedPayload, err),
		})
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", ev.Code, err)
	}
	if !changed {
		rep.Outcome(ctx, models.AuditEntry{
			Code:     ev.Code,
			Action:   models.ActionDedup,
			Outcome:  models.OutcomeUnchanged,
			Duration: ev.Duration + time.Since(start),
			Attempts: ev.Attempts,
		})
		return true, committer.Touch(ctx, ev.Code)
	}
	// A failed flush audits the record as rolled back with its batch.
	return true, committer.Add(ctx, rec)
}
