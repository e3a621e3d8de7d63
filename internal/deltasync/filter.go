// Package deltasync decides which identifiers a run has to fetch.
package deltasync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/store"
)

// Stats counts what the filter did with its candidates.
type Stats struct {
	Candidates int `json:"candidates"`
	Emitted    int `json:"emitted"`
	Fresh      int `json:"fresh"`
	Duplicates int `json:"duplicates"`
	Resumed    int `json:"resumed"`
}

// Filter streams the identifiers that are due for a fetch.
type Filter struct {
	reader store.CaptureReader
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New returns a filter that skips identifiers checked within window.
func New(reader store.CaptureReader, window time.Duration, logger *slog.Logger) *Filter {
	return &Filter{
		reader: reader,
		window: window,
		now:    time.Now,
		logger: logger.With("component", "deltasync"),
	}
}

// Due reports whether an identifier last seen at c must be fetched again.
// Never-captured identifiers are always due.
func Due(c store.Capture, found bool, now time.Time, window time.Duration) bool {
	if !found {
		return true
	}
	last := c.CheckedAt
	if c.CapturedAt.After(last) {
		last = c.CapturedAt
	}
	return now.Sub(last) >= window
}

// Stream checks the store, then sends every due candidate to out in input
// order and closes out. Duplicates and identifiers in skip are dropped. Any
// store error stops the stream and is returned; cancellation stops it
// silently.
func (f *Filter) Stream(ctx context.Context, candidates []hscode.Code, skip map[hscode.Code]struct{}, out chan<- hscode.Code) (Stats, error) {
	defer close(out)
	st := Stats{Candidates: len(candidates)}

	if err := f.reader.Ping(ctx); err != nil {
		return st, fmt.Errorf("deltasync: store unavailable: %w", err)
	}

	seen := make(map[hscode.Code]struct{}, len(candidates))
	for _, code := range candidates {
		if ctx.Err() != nil {
			return st, nil
		}
		if _, dup := seen[code]; dup {
			st.Duplicates++
			continue
		}
		seen[code] = struct{}{}
		if _, done := skip[code]; done {
			st.Resumed++
			continue
		}

		c, found, err := f.reader.LastCapture(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return st, nil
			}
			return st, fmt.Errorf("deltasync: %w", err)
		}
		if !Due(c, found, f.now(), f.window) {
			st.Fresh++
			continue
		}

		select {
		case out <- code:
			st.Emitted++
		case <-ctx.Done():
			return st, nil
		}
	}

	f.logger.Debug("delta-sync complete",
		slog.Int("candidates", st.Candidates),
		slog.Int("emitted", st.Emitted),
		slog.Int("fresh", st.Fresh),
		slog.Int("resumed", st.Resumed))
	return st, nil
}
