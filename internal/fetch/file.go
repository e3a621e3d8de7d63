package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/payload"
	"github.com/starford/tariffsync/internal/storage"
)

// FileFetcher reads payload snapshots from a directory: <code>.json,
// <code>.yaml or <code>.yml, optionally nested under the 2-digit chapter.
type FileFetcher struct {
	files storage.Provider
}

// NewFileFetcher returns a fetcher over files.
func NewFileFetcher(files storage.Provider) *FileFetcher {
	return &FileFetcher{files: files}
}

// Fetch implements Fetcher. A missing snapshot is permanent.
func (f *FileFetcher) Fetch(ctx context.Context, code hscode.Code) (models.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return models.RawPayload{}, Transient(err)
	}
	for _, dir := range []string{"", code.Chapter() + "/"} {
		for _, ext := range storage.PayloadExts {
			data, err := f.files.Read(dir + code.String() + ext)
			if errors.Is(err, storage.ErrNotExist) {
				continue
			}
			if err != nil {
				return models.RawPayload{}, Transient(err)
			}
			body, _, err := payload.Decode(data)
			if err != nil {
				return models.RawPayload{}, Permanent(err)
			}
			return models.RawPayload{Code: code, Body: body, FetchedAt: time.Now().UTC()}, nil
		}
	}
	return models.RawPayload{}, Permanent(fmt.Errorf("no snapshot for %s", code))
}
