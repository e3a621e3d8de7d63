// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tariff records and run health for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/audit"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/store"
)

const formatURI = "tariffsync://record-format"

// Runs starts pipeline runs on behalf of trigger_run.
type Runs interface {
	Start(ctx context.Context, p pipeline.Params) error
}

// Server wraps the MCP server with the tariffsync tools.
type Server struct {
	mcp    *server.MCPServer
	reader store.Reader
	runs   Runs
	runCtx context.Context
}

// New creates a new MCP server with all tools registered. runs may be nil, in
// which case trigger_run is not offered.
func New(reader store.Reader, runs Runs, runCtx context.Context) *Server {
	s := &Server{reader: reader, runs: runs, runCtx: runCtx}

	s.mcp = server.NewMCPServer(
		"tariffsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Get the current canonical record for a 10-digit tariff code: "+
			"hierarchy, designation, taxes, required documents, agreements and duty history. "+
			"See the "+formatURI+" resource for the field layout."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Tariff code, digits or dotted (0101.21.00.00)")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("record_history",
		mcp.WithDescription("List the change log of a tariff code, newest first, with a per-section diff summary."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Tariff code")),
		mcp.WithNumber("limit", mcp.Description("Max changes to return (default 50)")),
	), s.recordHistory)

	s.mcp.AddTool(mcp.NewTool("search_records",
		mcp.WithDescription("Search current records by designation text or code prefix."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Designation words or leading code digits")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchRecords)

	s.mcp.AddTool(mcp.NewTool("run_summary",
		mcp.WithDescription("Summary of a sync run: status and per-outcome totals."),
		mcp.WithString("run_id", mcp.Description("Run ID (empty for the latest run)")),
	), s.runSummary)

	s.mcp.AddTool(mcp.NewTool("recent_failures",
		mcp.WithDescription("Fetch failures, rejections and rolled-back records of a run, with reasons."),
		mcp.WithString("run_id", mcp.Description("Run ID (empty for the latest run)")),
		mcp.WithNumber("limit", mcp.Description("Max entries (default 20)")),
	), s.recentFailures)

	if runs != nil {
		s.mcp.AddTool(mcp.NewTool("trigger_run",
			mcp.WithDescription("Start a sync run in the background. Without codes, the configured codes file is used."),
			mcp.WithString("codes", mcp.Description("Comma-separated tariff codes (optional)")),
			mcp.WithString("window", mcp.Description("Freshness window such as 24h (optional)")),
		), s.triggerRun)
	}

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Canonical Record Format",
			mcp.WithResourceDescription("Field layout and units of canonical tariff records."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func requireCode(req mcp.CallToolRequest) (hscode.Code, error) {
	raw, err := req.RequireString("code")
	if err != nil {
		return "", err
	}
	return hscode.Parse(raw)
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := requireCode(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.reader.GetRecord(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", code)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (s *Server) recordHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := requireCode(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changes, err := s.reader.RecordChanges(ctx, code, req.GetInt("limit", store.DefaultLimit))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(changes) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no history for %s", code)), nil
	}
	// Full snapshots are available through get_record; keep the log compact.
	for i := range changes {
		changes[i].OldValue = nil
		changes[i].NewValue = nil
	}
	return jsonResult(changes)
}

func (s *Server) searchRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.reader.SearchRecords(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matching records"), nil
	}
	return jsonResult(results)
}

func (s *Server) runSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("run_id", "")
	run, err := s.reader.LatestRun(ctx)
	if id != "" {
		run, err = s.reader.GetRun(ctx, id)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "run %s started %s\n", run.ID, run.StartedAt.Format(time.RFC3339))
	b.WriteString(run.Summary.String())
	if run.Summary.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", run.Summary.Error)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) recentFailures(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := audit.BuildHealth(ctx, s.reader, req.GetString("run_id", ""), req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if h.Run == nil {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	if len(h.RecentFailures) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no failures in run %s", h.Run.ID)), nil
	}
	lines := make([]string, 0, len(h.RecentFailures))
	for _, e := range h.RecentFailures {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", e.Code, e.Outcome, e.Message))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) triggerRun(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := pipeline.Params{Trigger: "mcp"}
	for _, raw := range strings.Split(req.GetString("codes", ""), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		code, err := hscode.Parse(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p.Codes = append(p.Codes, code)
	}
	if w := req.GetString("window", ""); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid window: %s", w)), nil
		}
		p.Window = d
	}
	if err := s.runs.Start(s.runCtx, p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("run started; use run_summary to follow it"), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     RecordFormat,
		},
	}, nil
}
