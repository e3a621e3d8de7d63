package export

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/store"
	"github.com/starford/tariffsync/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func seed(t *testing.T, db *store.DB, n int) {
	t.Helper()
	recs := make([]models.CanonicalRecord, 0, n)
	for _, code := range testutil.Codes(n) {
		recs = append(recs, models.CanonicalRecord{
			RecordContent: models.RecordContent{
				Code: code,
				Hierarchy: models.Hierarchy{
					Section:    models.Node{Code: "I", Label: "Animaux vivants"},
					Chapter:    models.Node{Code: code.Chapter(), Label: "Animaux vivants"},
					Heading:    models.Node{Code: code.Heading(), Label: "Chevaux"},
					Subheading: models.Node{Code: code.Subheading(), Label: "Reproducteurs"},
				},
				Designation: "Chevaux",
				Unit:        "U",
			},
			Version:     1,
			Fingerprint: "fp-" + code.String(),
			CapturedAt:  time.Now().UTC(),
		})
	}
	if _, err := db.CommitBatch(context.Background(), store.Batch{RunID: "seed", Seq: 1, At: time.Now().UTC(), Records: recs}); err != nil {
		t.Fatal(err)
	}
}

func TestRun_WritesAndSkipsUnchanged(t *testing.T) {
	db := testutil.TestDB(t)
	if err := db.BeginRun(context.Background(), models.Run{ID: "seed", StartedAt: time.Now().UTC(), Status: models.RunRunning}); err != nil {
		t.Fatal(err)
	}
	seed(t, db, 3)
	dir, fs := testutil.TestDir(t)

	st, err := Run(context.Background(), db, fs, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if st.Written != 3 || st.Unchanged != 0 {
		t.Errorf("first export = %+v", st)
	}

	data, err := os.ReadFile(filepath.Join(dir, "01", "0101210001.json"))
	if err != nil {
		t.Fatal(err)
	}
	var rec models.CanonicalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Code != "0101210001" || rec.Version != 1 {
		t.Errorf("exported = %+v", rec)
	}

	st, err = Run(context.Background(), db, fs, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if st.Written != 0 || st.Unchanged != 3 {
		t.Errorf("second export = %+v", st)
	}
}
