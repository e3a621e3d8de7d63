// Package runservice owns run lifecycle for the long-running surfaces: it
// serializes runs, resolves the candidate list and keeps the last summary.
package runservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/lock"
	"github.com/starford/tariffsync/internal/metrics"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/pipeline"
)

// CodeSource yields the candidate identifiers for a run without explicit codes.
type CodeSource func(ctx context.Context) ([]hscode.Code, error)

// FileCodes reads candidates from a codes file on every call, so edits are
// picked up by the next run. Malformed lines are logged and skipped.
func FileCodes(path string, logger *slog.Logger) CodeSource {
	return func(context.Context) ([]hscode.Code, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open codes file: %w", err)
		}
		defer f.Close()
		codes, errs := hscode.ReadList(f)
		for _, err := range errs {
			logger.Warn("skipping code", slog.String("file", path), slog.String("error", err.Error()))
		}
		return codes, nil
	}
}

// FullRefresh as Params.Window bypasses the freshness window, since a zero
// Window means "use the configured default" here.
const FullRefresh time.Duration = -1

// Runner is the part of the pipeline the service drives.
type Runner interface {
	Run(ctx context.Context, p pipeline.Params) (models.Summary, error)
}

// Service coordinates pipeline runs. At most one run is active per process;
// the Locker extends that across processes.
type Service struct {
	runner   Runner
	locker   lock.Locker
	codes    CodeSource
	defaults pipeline.Params
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	last    *models.Summary
	wg      sync.WaitGroup
}

// NewService creates a run service. codes may be nil when every run passes
// explicit codes; locker may be nil.
func NewService(runner Runner, locker lock.Locker, codes CodeSource, defaults pipeline.Params, logger *slog.Logger) *Service {
	if locker == nil {
		locker = lock.Nop{}
	}
	return &Service{
		runner:   runner,
		locker:   locker,
		codes:    codes,
		defaults: defaults,
		logger:   logger.With("component", "runservice"),
	}
}

// Run executes a run synchronously. Zero fields of p fall back to the
// service defaults. It fails with apperr.ErrRunInProgress when another run
// holds the lock.
func (s *Service) Run(ctx context.Context, p pipeline.Params) (models.Summary, error) {
	release, err := s.begin(ctx)
	if err != nil {
		return models.Summary{}, err
	}
	defer release()
	return s.execute(ctx, p)
}

// Start launches a run in the background and returns once it has the lock.
// The run keeps going until ctx is cancelled.
func (s *Service) Start(ctx context.Context, p pipeline.Params) error {
	release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		if _, err := s.execute(ctx, p); err != nil {
			s.logger.Error("background run failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Wait blocks until background runs have returned.
func (s *Service) Wait() { s.wg.Wait() }

// Running reports whether a run is active in this process.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Last returns the summary of the most recent run finished by this process.
func (s *Service) Last() (models.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return models.Summary{}, false
	}
	return *s.last, true
}

func (s *Service) begin(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, apperr.ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	unlock, err := s.locker.Acquire(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return nil, err
	}
	metrics.RunInProgress.Set(1)
	return func() {
		unlock()
		metrics.RunInProgress.Set(0)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}, nil
}

func (s *Service) execute(ctx context.Context, p pipeline.Params) (models.Summary, error) {
	p = s.merge(p)
	if len(p.Codes) == 0 {
		if s.codes == nil {
			return models.Summary{}, errors.New("no codes given and no codes file configured")
		}
		codes, err := s.codes(ctx)
		if err != nil {
			return models.Summary{}, err
		}
		p.Codes = codes
	}

	sum, err := s.runner.Run(ctx, p)
	s.mu.Lock()
	s.last = &sum
	s.mu.Unlock()
	s.logger.Info("run finished", slog.String("run_id", sum.RunID), slog.String("summary", sum.String()))
	return sum, err
}

func (s *Service) merge(p pipeline.Params) pipeline.Params {
	d := s.defaults
	switch {
	case p.Window == 0:
		p.Window = d.Window
	case p.Window < 0:
		p.Window = 0
	}
	if p.BatchSize == 0 {
		p.BatchSize = d.BatchSize
	}
	if p.Workers == 0 {
		p.Workers = d.Workers
	}
	if p.QueueSize == 0 {
		p.QueueSize = d.QueueSize
	}
	if p.Trigger == "" {
		p.Trigger = d.Trigger
	}
	return p
}
