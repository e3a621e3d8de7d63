package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/tariffsync/internal/fetch"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/testutil"
)

type recordingRuns struct {
	params []pipeline.Params
}

func (r *recordingRuns) Start(_ context.Context, p pipeline.Params) error {
	r.params = append(r.params, p)
	return nil
}

// testServer seeds a store with three committed codes and one rejected code.
func testServer(t *testing.T) (*Server, *recordingRuns) {
	t.Helper()
	db := testutil.TestDB(t)

	codes := testutil.Codes(4)
	f := fetch.FetcherFunc(func(_ context.Context, code hscode.Code) (models.RawPayload, error) {
		p := testutil.Payload(code, "2,5 %")
		if code == codes[3] {
			delete(p.Body, "position_tarifaire")
		}
		return p, nil
	})
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := pipeline.New(db, f, quiet).Run(context.Background(), pipeline.Params{Codes: codes}); err != nil {
		t.Fatal(err)
	}

	runs := &recordingRuns{}
	return New(db, runs, context.Background()), runs
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "get_record":
		result, err = srv.getRecord(ctx, req)
	case "record_history":
		result, err = srv.recordHistory(ctx, req)
	case "search_records":
		result, err = srv.searchRecords(ctx, req)
	case "run_summary":
		result, err = srv.runSummary(ctx, req)
	case "recent_failures":
		result, err = srv.recentFailures(ctx, req)
	case "trigger_run":
		result, err = srv.triggerRun(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestGetRecord(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "get_record", map[string]any{"code": "0101.21.00.00"})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	var rec models.CanonicalRecord
	if err := json.Unmarshal([]byte(resultText(r)), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Code != "0101210000" || rec.Hierarchy.Chapter.Code != "01" {
		t.Errorf("record = %+v", rec)
	}
}

func TestGetRecord_Missing(t *testing.T) {
	srv, _ := testServer(t)
	for _, code := range []string{"0101210003", "bad"} {
		if r := callTool(t, srv, "get_record", map[string]any{"code": code}); !r.IsError {
			t.Errorf("%s: expected error", code)
		}
	}
}

func TestRecordHistory(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "record_history", map[string]any{"code": "0101210001"})
	var changes []models.ChangeEntry
	if err := json.Unmarshal([]byte(resultText(r)), &changes); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	if len(changes) != 1 || changes[0].Kind != models.ChangeCreated || changes[0].NewValue != nil {
		t.Errorf("changes = %+v", changes)
	}

	r = callTool(t, srv, "record_history", map[string]any{"code": "0101210003"})
	if !strings.HasPrefix(resultText(r), "no history") {
		t.Errorf("history of rejected code = %q", resultText(r))
	}
}

func TestSearchRecords(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "search_records", map[string]any{"query": "chevaux", "limit": 2})
	var hits []models.RecordSummary
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("hits = %d, want 2", len(hits))
	}

	r = callTool(t, srv, "search_records", map[string]any{"query": "tracteurs"})
	if resultText(r) != "no matching records" {
		t.Errorf("no-match = %q", resultText(r))
	}
}

func TestRunSummaryAndFailures(t *testing.T) {
	srv, _ := testServer(t)

	text := resultText(callTool(t, srv, "run_summary", map[string]any{}))
	if !strings.Contains(text, "completed: attempted=4 committed=3") || !strings.Contains(text, "rejected=1") {
		t.Errorf("summary = %q", text)
	}

	text = resultText(callTool(t, srv, "recent_failures", map[string]any{}))
	if !strings.HasPrefix(text, "0101210003\trejected\tmissing_field") {
		t.Errorf("failures = %q", text)
	}

	if r := callTool(t, srv, "recent_failures", map[string]any{"run_id": "nope"}); !r.IsError {
		t.Error("expected error for unknown run")
	}
}

func TestTriggerRun(t *testing.T) {
	srv, runs := testServer(t)

	r := callTool(t, srv, "trigger_run", map[string]any{"codes": "0101.21.00.00, 0101210001", "window": "6h"})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	if len(runs.params) != 1 {
		t.Fatalf("runs = %d", len(runs.params))
	}
	p := runs.params[0]
	if len(p.Codes) != 2 || p.Window != 6*time.Hour || p.Trigger != "mcp" {
		t.Errorf("params = %+v", p)
	}

	if r := callTool(t, srv, "trigger_run", map[string]any{"codes": "0101"}); !r.IsError {
		t.Error("expected error for malformed code")
	}
	if r := callTool(t, srv, "trigger_run", map[string]any{"window": "later"}); !r.IsError {
		t.Error("expected error for malformed window")
	}
}

type busyRuns struct{}

func (busyRuns) Start(context.Context, pipeline.Params) error { return errors.New("run already in progress") }

func TestTriggerRun_Busy(t *testing.T) {
	srv, _ := testServer(t)
	srv.runs = busyRuns{}
	if r := callTool(t, srv, "trigger_run", map[string]any{}); !r.IsError {
		t.Error("expected error when a run is active")
	}
}
