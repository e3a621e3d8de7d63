package models

import (
	"fmt"
	"time"
)

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunAborted   RunStatus = "aborted"
)

// Summary is the end-of-run health signal handed to the orchestrator.
type Summary struct {
	RunID      string        `json:"run_id"`
	Status     RunStatus     `json:"status"`
	Planned    int           `json:"planned"`
	Attempted  int           `json:"attempted"`
	Committed  int           `json:"committed"`
	Unchanged  int           `json:"unchanged"`
	Rejected   int           `json:"rejected"`
	Failed     int           `json:"failed"`
	RolledBack int           `json:"rolled_back"`
	Discarded  int           `json:"discarded"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// Completed reports whether the run processed its whole work set.
func (s Summary) Completed() bool { return s.Status == RunCompleted }

// String renders the human-readable outcome line.
func (s Summary) String() string {
	if s.Completed() {
		return fmt.Sprintf("completed: attempted=%d committed=%d unchanged=%d rejected=%d failed=%d rolled_back=%d batches=%d",
			s.Attempted, s.Committed, s.Unchanged, s.Rejected, s.Failed, s.RolledBack, s.Batches)
	}
	return fmt.Sprintf("%s after %d of %d: committed=%d unchanged=%d rejected=%d failed=%d rolled_back=%d discarded=%d",
		s.Status, s.Attempted, s.Planned, s.Committed, s.Unchanged, s.Rejected, s.Failed, s.RolledBack, s.Discarded)
}

// RunParams are the orchestrator-supplied parameters, persisted with the run.
type RunParams struct {
	Window      time.Duration `json:"window_ns"`
	BatchSize   int           `json:"batch_size"`
	Workers     int           `json:"workers"`
	QueueSize   int           `json:"queue_size"`
	Explicit    int           `json:"explicit_codes"`
	ResumeRunID string        `json:"resume_run_id,omitempty"`
	Trigger     string        `json:"trigger,omitempty"`
}

// Run is one persisted pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Status     RunStatus `json:"status"`
	Params     RunParams `json:"params"`
	Summary    Summary   `json:"summary"`
}
