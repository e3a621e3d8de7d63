package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tariffsync/internal/store"
)

// Deps are the collaborators the API serves from.
type Deps struct {
	Reader store.Reader
	Runs   Runs
	// RunContext bounds runs started over HTTP; it outlives the request.
	RunContext  context.Context
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(d Deps) chi.Router {
	if d.RunContext == nil {
		d.RunContext = context.Background()
	}
	h := NewHandler(d.Reader, d.Runs, d.RunContext)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(d.AuthEnabled, d.Token))

	// Records.
	r.Get("/records", h.ListRecords)
	r.Get("/records/{code}", h.GetRecord)
	r.Get("/records/{code}/versions", h.RecordVersions)
	r.Get("/records/{code}/changes", h.RecordChanges)

	// Runs.
	r.Get("/runs/latest", h.LatestRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Post("/runs", h.StartRun)

	// Audit.
	r.Get("/audit", h.ListAudit)
	r.Get("/audit/health", h.Health)

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}
