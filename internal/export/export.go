// Package export writes the current records to a directory tree of JSON
// files, one per identifier, grouped by chapter.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/starford/tariffsync/internal/checksum"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/storage"
	"github.com/starford/tariffsync/internal/store"
)

const pageSize = 200

// Stats counts what an export did.
type Stats struct {
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
}

// Path returns the export location of code.
func Path(code hscode.Code) string {
	return path.Join(code.Chapter(), code.String()+".json")
}

// Encode renders rec the way it is exported.
func Encode(rec models.CanonicalRecord) ([]byte, error) {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Run pages through every current record and writes it to dst. Files whose
// content is already identical are left untouched.
func Run(ctx context.Context, reader store.Reader, dst storage.Provider, logger *slog.Logger) (Stats, error) {
	var st Stats

	existing, err := dst.List(ctx, "")
	if err != nil {
		return st, err
	}
	sums := make(map[string]string, len(existing))
	for _, fi := range existing {
		sums[fi.Path] = fi.Checksum
	}

	var after hscode.Code
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		page, err := reader.ListRecords(ctx, after, pageSize)
		if err != nil {
			return st, fmt.Errorf("export: list records: %w", err)
		}
		for _, rec := range page {
			data, err := Encode(rec)
			if err != nil {
				return st, fmt.Errorf("export: encode %s: %w", rec.Code, err)
			}
			p := Path(rec.Code)
			if sums[p] == checksum.Sum(data) {
				st.Unchanged++
				continue
			}
			if err := dst.Write(p, data); err != nil {
				return st, fmt.Errorf("export: %w", err)
			}
			st.Written++
		}
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].Code
	}

	logger.Info("export complete", slog.Int("written", st.Written), slog.Int("unchanged", st.Unchanged))
	return st, nil
}
