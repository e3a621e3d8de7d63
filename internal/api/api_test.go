package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/fetch"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/store"
	"github.com/starford/tariffsync/internal/testutil"
)

type fakeRuns struct {
	started []pipeline.Params
	busy    bool
}

func (f *fakeRuns) Start(_ context.Context, p pipeline.Params) error {
	if f.busy {
		return apperr.ErrRunInProgress
	}
	f.started = append(f.started, p)
	return nil
}

func (f *fakeRuns) Running() bool { return f.busy }

// testEnv seeds a temp store with one run over five codes, the last of which
// fails to fetch, and returns a router over it.
func testEnv(t *testing.T, authToken string) (*store.DB, *fakeRuns, http.Handler) {
	t.Helper()
	return testEnvWithEvents(t, authToken, nil)
}

func testEnvWithEvents(t *testing.T, authToken string, events http.Handler) (*store.DB, *fakeRuns, http.Handler) {
	t.Helper()
	db := testutil.TestDB(t)

	codes := testutil.Codes(5)
	f := fetch.FetcherFunc(func(_ context.Context, code hscode.Code) (models.RawPayload, error) {
		if code == codes[4] {
			return models.RawPayload{}, fetch.Permanent(io.ErrUnexpectedEOF)
		}
		return testutil.Payload(code, "2,5 %"), nil
	})
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := pipeline.New(db, f, quiet).Run(context.Background(), pipeline.Params{Codes: codes}); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	runs := &fakeRuns{}
	router := NewRouter(Deps{
		Reader:      db,
		Runs:        runs,
		AuthEnabled: authToken != "",
		Token:       authToken,
		Events:      events,
	})
	return db, runs, router
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestGetRecord(t *testing.T) {
	_, _, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/records/0101.21.00.01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var rec models.CanonicalRecord
	decode(t, w, &rec)
	if rec.Code != "0101210001" || rec.Version != 1 || len(rec.Taxation) != 2 {
		t.Errorf("record = %+v", rec)
	}
}

func TestGetRecord_NotFoundAndInvalid(t *testing.T) {
	_, _, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/records/9999999999", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/records/12ab", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid = %d, want 400", w.Code)
	}
}

func TestRecordHistory(t *testing.T) {
	_, _, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/records/0101210000/versions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("versions status = %d", w.Code)
	}
	var versions struct {
		Versions []models.CanonicalRecord `json:"versions"`
	}
	decode(t, w, &versions)
	if len(versions.Versions) != 1 {
		t.Errorf("versions = %d", len(versions.Versions))
	}

	w = do(t, router, http.MethodGet, "/records/0101210000/changes", nil)
	var changes struct {
		Changes []models.ChangeEntry `json:"changes"`
	}
	decode(t, w, &changes)
	if len(changes.Changes) != 1 || changes.Changes[0].Kind != models.ChangeCreated {
		t.Errorf("changes = %+v", changes.Changes)
	}

	if w := do(t, router, http.MethodGet, "/records/0101210004/versions", nil); w.Code != http.StatusNotFound {
		t.Errorf("versions of failed code = %d, want 404", w.Code)
	}
}

func TestListAndSearchRecords(t *testing.T) {
	_, _, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/records?limit=2", nil)
	var page RecordListResponse
	decode(t, w, &page)
	if len(page.Records) != 2 || page.Next != "0101210001" {
		t.Fatalf("page = %+v", page)
	}

	w = do(t, router, http.MethodGet, "/records?limit=2&after="+string(page.Next), nil)
	var next RecordListResponse
	decode(t, w, &next)
	if len(next.Records) != 2 || next.Records[0].Code != "0101210002" {
		t.Errorf("next page = %+v", next)
	}

	w = do(t, router, http.MethodGet, "/records?q=reproducteurs", nil)
	var hits RecordListResponse
	decode(t, w, &hits)
	if len(hits.Records) != 4 {
		t.Errorf("search hits = %d, want 4", len(hits.Records))
	}
}

func TestLatestRunAndHealth(t *testing.T) {
	_, _, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/runs/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("latest status = %d", w.Code)
	}
	var run RunResponse
	decode(t, w, &run)
	if run.Run.Status != models.RunCompleted || run.Run.Summary.Committed != 4 || run.Run.Summary.Failed != 1 {
		t.Errorf("run = %+v", run.Run)
	}

	w = do(t, router, http.MethodGet, "/runs/"+run.Run.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get run = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/runs/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodGet, "/audit/health", nil)
	var health struct {
		Counts         []models.OutcomeCount `json:"counts"`
		RecentFailures []models.AuditEntry   `json:"recent_failures"`
	}
	decode(t, w, &health)
	if len(health.RecentFailures) != 1 || health.RecentFailures[0].Code != "0101210004" {
		t.Errorf("failures = %+v", health.RecentFailures)
	}
}

func TestListAudit_Filters(t *testing.T) {
	_, _, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/audit?outcome=committed", nil)
	var resp struct {
		Entries []models.AuditEntry `json:"entries"`
	}
	decode(t, w, &resp)
	if len(resp.Entries) != 4 {
		t.Errorf("committed entries = %d, want 4", len(resp.Entries))
	}

	w = do(t, router, http.MethodGet, "/audit?code=0101210004", nil)
	decode(t, w, &resp)
	if len(resp.Entries) != 1 || resp.Entries[0].Outcome != models.OutcomeFetchFailed {
		t.Errorf("code entries = %+v", resp.Entries)
	}

	if w := do(t, router, http.MethodGet, "/audit?code=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad code = %d, want 400", w.Code)
	}
}

func TestStartRun(t *testing.T) {
	_, runs, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/runs", RunRequest{Codes: []string{"0101.21.00.00"}, Window: "12h", BatchSize: 10})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(runs.started) != 1 {
		t.Fatalf("started = %d", len(runs.started))
	}
	p := runs.started[0]
	if p.Window != 12*time.Hour || p.BatchSize != 10 || len(p.Codes) != 1 || p.Trigger != "api" {
		t.Errorf("params = %+v", p)
	}

	// Empty body uses defaults.
	if w := do(t, router, http.MethodPost, "/runs", nil); w.Code != http.StatusAccepted {
		t.Errorf("empty body = %d", w.Code)
	}

	runs.busy = true
	if w := do(t, router, http.MethodPost, "/runs", RunRequest{}); w.Code != http.StatusConflict {
		t.Errorf("busy = %d, want 409", w.Code)
	}
}

func TestStartRun_Invalid(t *testing.T) {
	_, runs, router := testEnv(t, "")

	for _, req := range []RunRequest{
		{Window: "soon"},
		{BatchSize: -1},
		{Codes: []string{"0101"}},
	} {
		if w := do(t, router, http.MethodPost, "/runs", req); w.Code != http.StatusBadRequest {
			t.Errorf("%+v = %d, want 400", req, w.Code)
		}
	}
	if w := do(t, router, http.MethodPost, "/runs", map[string]any{"batch": 5}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", w.Code)
	}
	if len(runs.started) != 0 {
		t.Errorf("invalid requests started runs")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, _, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, _, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/records", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, _, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// stubEvents writes headers and blocks until the request context is done.
var stubEvents = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestEvents_AuthProtected(t *testing.T) {
	_, _, router := testEnvWithEvents(t, "secret", stubEvents)

	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestEvents_ValidToken(t *testing.T) {
	_, _, router := testEnvWithEvents(t, "tok", stubEvents)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
