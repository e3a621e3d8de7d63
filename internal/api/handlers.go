package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tariffsync/internal/apperr"
	"github.com/starford/tariffsync/internal/audit"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/store"
)

// Runs starts pipeline runs on behalf of the API.
type Runs interface {
	Start(ctx context.Context, p pipeline.Params) error
	Running() bool
}

// Handler holds API route handlers.
type Handler struct {
	reader store.Reader
	runs   Runs
	runCtx context.Context
}

// NewHandler creates a new Handler.
func NewHandler(reader store.Reader, runs Runs, runCtx context.Context) *Handler {
	return &Handler{reader: reader, runs: runs, runCtx: runCtx}
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return store.Limit(n)
}

// pathCode parses the {code} URL parameter, writing a 400 on failure.
func pathCode(w http.ResponseWriter, r *http.Request) (hscode.Code, bool) {
	code, err := hscode.Parse(chi.URLParam(r, "code"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return "", false
	}
	return code, true
}

func internalError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	slog.Error(msg, append(attrs, slog.String("error", err.Error()))...)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}

// ListRecords handles GET /api/records. With q it searches designations and
// code prefixes; without q it pages through records in code order.
//
//	@Summary		Search or page through current records
//	@Tags			records
//	@Produce		json
//	@Param			q		query		string	false	"Designation text or code prefix"
//	@Param			after	query		string	false	"Return codes after this one"
//	@Param			limit	query		int		false	"Page size"
//	@Success		200		{object}	RecordListResponse
//	@Security		BearerAuth
//	@Router			/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryLimit(r)

	if text := q.Get("q"); text != "" {
		results, err := h.reader.SearchRecords(r.Context(), text, limit)
		if err != nil {
			internalError(w, "search records failed", err, slog.String("query", text))
			return
		}
		writeJSON(w, http.StatusOK, RecordListResponse{Records: results})
		return
	}

	var after hscode.Code
	if a := q.Get("after"); a != "" {
		c, err := hscode.Parse(a)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		after = c
	}
	recs, err := h.reader.ListRecords(r.Context(), after, limit)
	if err != nil {
		internalError(w, "list records failed", err)
		return
	}
	resp := RecordListResponse{Records: make([]models.RecordSummary, 0, len(recs))}
	for _, rec := range recs {
		resp.Records = append(resp.Records, models.RecordSummary{
			Code:        rec.Code,
			Designation: rec.Designation,
			Version:     rec.Version,
			Fingerprint: rec.Fingerprint,
			CapturedAt:  rec.CapturedAt,
		})
	}
	if len(recs) == limit {
		resp.Next = recs[len(recs)-1].Code
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRecord handles GET /api/records/{code}.
//
//	@Summary		Get the current record for a code
//	@Tags			records
//	@Produce		json
//	@Param			code	path		string	true	"10-digit code, dots allowed"
//	@Success		200		{object}	models.CanonicalRecord
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{code} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(w, r)
	if !ok {
		return
	}
	rec, err := h.reader.GetRecord(r.Context(), code)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			internalError(w, "get record failed", err, slog.String("code", code.String()))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RecordVersions handles GET /api/records/{code}/versions.
func (h *Handler) RecordVersions(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(w, r)
	if !ok {
		return
	}
	versions, err := h.reader.RecordVersions(r.Context(), code)
	if err != nil {
		internalError(w, "record versions failed", err, slog.String("code", code.String()))
		return
	}
	if len(versions) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// RecordChanges handles GET /api/records/{code}/changes.
func (h *Handler) RecordChanges(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(w, r)
	if !ok {
		return
	}
	changes, err := h.reader.RecordChanges(r.Context(), code, queryLimit(r))
	if err != nil {
		internalError(w, "record changes failed", err, slog.String("code", code.String()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

// LatestRun handles GET /api/runs/latest.
//
//	@Summary		Latest run and its summary
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	RunResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/latest [get]
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.reader.LatestRun(r.Context())
	h.writeRun(w, run, err)
}

// GetRun handles GET /api/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.reader.GetRun(r.Context(), chi.URLParam(r, "id"))
	h.writeRun(w, run, err)
}

func (h *Handler) writeRun(w http.ResponseWriter, run models.Run, err error) {
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("no runs"))
		} else {
			internalError(w, "get run failed", err)
		}
		return
	}
	running := false
	if h.runs != nil {
		running = h.runs.Running()
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Running: running})
}

// StartRun handles POST /api/runs. The run proceeds in the background.
//
//	@Summary		Trigger a sync run
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RunRequest	false	"Run parameters"
//	@Success		202		{object}	map[string]string
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("runs are not enabled"))
		return
	}
	var req RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	p, err := req.Params()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	p.Trigger = "api"

	if err := h.runs.Start(h.runCtx, p); err != nil {
		if status := errorStatus(err); status != http.StatusInternalServerError {
			writeJSON(w, status, errorBody(err.Error()))
			return
		}
		internalError(w, "start run failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// ListAudit handles GET /api/audit.
//
//	@Summary		Audit log entries, newest first
//	@Tags			audit
//	@Produce		json
//	@Param			run_id	query	string	false	"Run ID"
//	@Param			code	query	string	false	"Code"
//	@Param			outcome	query	string	false	"Outcome"	Enums(committed, rejected, unchanged, fetch_failed, rolled_back)
//	@Param			limit	query	int		false	"Max entries"
//	@Security		BearerAuth
//	@Router			/audit [get]
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.AuditFilter{
		RunID:   q.Get("run_id"),
		Outcome: models.Outcome(q.Get("outcome")),
		Limit:   queryLimit(r),
	}
	if c := q.Get("code"); c != "" {
		code, err := hscode.Parse(c)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		f.Code = code
	}
	entries, err := h.reader.ListAudit(r.Context(), f)
	if err != nil {
		internalError(w, "list audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Health handles GET /api/audit/health: outcome aggregates and recent
// failures of one run (the latest by default).
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := audit.BuildHealth(r.Context(), h.reader, r.URL.Query().Get("run_id"), queryLimit(r))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("run not found"))
		} else {
			internalError(w, "build health failed", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, health)
}
