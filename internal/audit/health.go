package audit

import (
	"context"
	"errors"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

// Health is the dashboard view of the latest run.
type Health struct {
	Run            *models.Run           `json:"run,omitempty"`
	Counts         []models.OutcomeCount `json:"counts"`
	RecentFailures []models.AuditEntry   `json:"recent_failures"`
}

// BuildHealth aggregates the audit log for runID, or for the latest run when
// runID is empty. failures caps the number of recent failures returned.
func BuildHealth(ctx context.Context, reader store.Reader, runID string, failures int) (Health, error) {
	h := Health{Counts: []models.OutcomeCount{}, RecentFailures: []models.AuditEntry{}}

	var (
		run models.Run
		err error
	)
	if runID == "" {
		run, err = reader.LatestRun(ctx)
	} else {
		run, err = reader.GetRun(ctx, runID)
	}
	switch {
	case errors.Is(err, apperr.ErrNotFound) && runID == "":
		return h, nil
	case err != nil:
		return h, err
	}
	h.Run = &run

	if h.Counts, err = reader.AuditCounts(ctx, run.ID); err != nil {
		return h, err
	}
	for _, outcome := range []models.Outcome{models.OutcomeFetchFailed, models.OutcomeRejected, models.OutcomeRolledBack} {
		entries, err := reader.ListAudit(ctx, models.AuditFilter{RunID: run.ID, Outcome: outcome, Limit: failures})
		if err != nil {
			return h, err
		}
		h.RecentFailures = append(h.RecentFailures, entries...)
	}
	if len(h.RecentFailures) > failures && failures > 0 {
		h.RecentFailures = h.RecentFailures[:failures]
	}
	return h, nil
}
