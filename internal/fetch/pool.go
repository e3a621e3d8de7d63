package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/metrics"
	"github.com/starford/tariffsync/internal/models"
)

// Event is the single terminal result for one dispatched identifier.
type Event struct {
	Code     hscode.Code
	Payload  models.RawPayload
	Err      error
	Attempts int
	Duration time.Duration
	// Abandoned is set when retries stopped because the run was cancelled.
	Abandoned bool
}

// Policy bounds retries.
type Policy struct {
	MaxAttempts int           // total calls per identifier, including the first
	BaseDelay   time.Duration // first backoff interval
	MaxDelay    time.Duration // backoff ceiling
	CallTimeout time.Duration // deadline for one Fetch call
}

// DefaultPolicy is used for zero fields.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	CallTimeout: 30 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(DefaultPolicy.MaxDelay, p.BaseDelay)
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = DefaultPolicy.CallTimeout
	}
	return p
}

// Pool runs a fixed number of fetch workers over an identifier stream.
type Pool struct {
	fetcher Fetcher
	workers int
	policy  Policy
	logger  *slog.Logger
}

// NewPool creates a pool with the given worker count (minimum 1).
func NewPool(f Fetcher, workers int, policy Policy, logger *slog.Logger) *Pool {
	return &Pool{
		fetcher: f,
		workers: max(workers, 1),
		policy:  policy.withDefaults(),
		logger:  logger.With("component", "fetch"),
	}
}

// Workers returns the worker count.
func (p *Pool) Workers() int { return p.workers }

// Run starts the workers and returns the merged event stream, which has room
// for buffer events and is closed once every worker has exited. Workers stop
// taking identifiers when ids is closed or ctx is done; an identifier already
// taken always produces exactly one event, so the caller must drain the stream.
//
// Fetch calls are detached from ctx so that in-flight requests complete on
// cancellation; backoff sleeps are not.
func (p *Pool) Run(ctx context.Context, ids <-chan hscode.Code, buffer int) <-chan Event {
	out := make(chan Event, max(buffer, 0))
	var g errgroup.Group
	for range p.workers {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case code, ok := <-ids:
					if !ok {
						return nil
					}
					out <- p.fetch(ctx, code)
				}
			}
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out
}

func (p *Pool) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.BaseDelay
	b.MaxInterval = p.policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.policy.MaxAttempts-1)), ctx)
}

func (p *Pool) fetch(ctx context.Context, code hscode.Code) Event {
	start := time.Now()
	ev := Event{Code: code}
	detached := context.WithoutCancel(ctx)

	op := func() error {
		ev.Attempts++
		callCtx, cancel := context.WithTimeout(detached, p.policy.CallTimeout)
		defer cancel()

		payload, err := p.fetcher.Fetch(callCtx, code)
		switch {
		case err == nil:
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
			if payload.Code == "" {
				payload.Code = code
			}
			if payload.FetchedAt.IsZero() {
				payload.FetchedAt = time.Now().UTC()
			}
			ev.Payload = payload
			return nil
		case IsPermanent(err):
			metrics.FetchAttempts.WithLabelValues("permanent").Inc()
			return backoff.Permanent(err)
		default:
			metrics.FetchAttempts.WithLabelValues("transient").Inc()
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Debug("retrying fetch",
			slog.String("code", code.String()),
			slog.Int("attempt", ev.Attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	ev.Err = backoff.RetryNotify(op, p.newBackOff(ctx), notify)
	if cerr := ctx.Err(); cerr != nil && errors.Is(ev.Err, cerr) {
		ev.Abandoned = true
	}
	ev.Duration = time.Since(start)
	metrics.ObserveFetch(start)
	return ev
}
