package pipeline

import (
	"time"

	"github.com/starford/tariffsync/internal/audit"
	"github.com/starford/tariffsync/internal/fetch"
)

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithFetchPolicy sets the fetch retry policy.
func WithFetchPolicy(p fetch.Policy) Option {
	return func(pl *Pipeline) {
		pl.fetchPolicy = p
	}
}

// WithCommitRetry sets how often a failing batch commit is retried.
func WithCommitRetry(attempts int, base, maxDelay time.Duration) Option {
	return func(pl *Pipeline) {
		pl.commitAttempts = attempts
		pl.commitBase = base
		pl.commitMax = maxDelay
	}
}

// WithSink routes live run events to s.
func WithSink(s audit.Sink) Option {
	return func(pl *Pipeline) {
		pl.sink = s
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(pl *Pipeline) {
		pl.newID = fn
	}
}

// WithClock replaces the wall clock used for capture timestamps.
func WithClock(fn func() time.Time) Option {
	return func(pl *Pipeline) {
		pl.now = fn
	}
}
