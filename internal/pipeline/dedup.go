package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tariffsync/internal/checksum"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
)

// errUnencodable marks content the hash engine cannot serialize. It is a
// property of the payload, not of the store.
var errUnencodable = errors.New("content cannot be fingerprinted")

// gate compares content against the last stored fingerprint. It returns
// changed=false for identical content, otherwise the record to commit with
// its next version.
func gate(ctx context.Context, reader store.CaptureReader, content models.RecordContent, now time.Time) (models.CanonicalRecord, bool, error) {
	fp, err := checksum.Fingerprint(content)
	if err != nil {
		return models.CanonicalRecord{}, false, fmt.Errorf("%w: %w", errUnencodable, err)
	}
	prev, found, err := reader.LastCapture(ctx, content.Code)
	if err != nil {
		return models.CanonicalRecord{}, false, err
	}
	if found && prev.Fingerprint == fp {
		return models.CanonicalRecord{}, false, nil
	}
	rec := models.CanonicalRecord{
		RecordContent: content,
		Version:       1,
		Fingerprint:   fp,
		CapturedAt:    now,
	}
	if found {
		rec.Version = prev.Version + 1
	}
	return rec, true, nil
}
