package store

import (
	"time"

	"github.com/starford/tariffsync/internal/changes"
	"github.com/starford/tariffsync/internal/models"
)

// NewChange builds the change-log entry for committing rec over prev. prev is
// nil on first insert, which yields a single created marker.
func NewChange(runID string, at time.Time, prev *models.CanonicalRecord, rec models.CanonicalRecord) models.ChangeEntry {
	cur := rec.RecordContent
	e := models.ChangeEntry{
		Code:           rec.Code,
		Kind:           models.ChangeCreated,
		NewVersion:     rec.Version,
		NewFingerprint: rec.Fingerprint,
		NewValue:       &cur,
		RunID:          runID,
		ChangedAt:      at,
	}
	if prev == nil {
		e.Summary = changes.Summarize(nil, cur)
		return e
	}
	old := prev.RecordContent
	e.Kind = models.ChangeUpdated
	e.OldVersion = prev.Version
	e.OldFingerprint = prev.Fingerprint
	e.OldValue = &old
	e.Summary = changes.Summarize(&old, cur)
	return e
}
