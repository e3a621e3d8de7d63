package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/starford/tariffsync/internal/fetch"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/runservice"
	"github.com/starford/tariffsync/internal/testutil"
)

func TestSyncAndExport(t *testing.T) {
	db := testutil.TestDB(t)
	dir := t.TempDir()

	codesPath := filepath.Join(dir, "codes.csv")
	if err := os.WriteFile(codesPath, []byte("hs_code\n0101.21.00.00\n0101.21.00.01\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	cfg.Codes.Path = codesPath
	cfg.Export.Dir = filepath.Join(dir, "export")

	var calls atomic.Int32
	f := fetch.FetcherFunc(func(_ context.Context, code hscode.Code) (models.RawPayload, error) {
		calls.Add(1)
		return testutil.Payload(code, "2,5 %"), nil
	})
	opts := []Option{WithConfig(cfg), WithStore(db), WithFetcher(f), WithLogOutput(io.Discard)}

	sum, err := Sync(context.Background(), pipeline.Params{}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != models.RunCompleted || sum.Committed != 2 {
		t.Fatalf("summary = %+v", sum)
	}

	// Within the default freshness window nothing is refetched.
	if _, err := Sync(context.Background(), pipeline.Params{}, opts...); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}

	// A full refresh refetches and finds nothing new.
	sum, err = Sync(context.Background(), pipeline.Params{Window: runservice.FullRefresh}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); sum.Unchanged != 2 || n != 4 {
		t.Errorf("full refresh: summary = %+v, fetches = %d", sum, n)
	}

	st, err := Export(context.Background(), "", opts...)
	if err != nil {
		t.Fatal(err)
	}
	if st.Written != 2 {
		t.Errorf("export = %+v", st)
	}
	if _, err := os.Stat(filepath.Join(cfg.Export.Dir, "01", "0101210000.json")); err != nil {
		t.Error(err)
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Error("expected error without config")
	}
}
