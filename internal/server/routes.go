package server

import (
	"net/http"

	"github.com/jobgtm/jobs-ingest/internal/extractor"
	"github.com/jobgtm/jobs-ingest/internal/listing"
	"github.com/jobgtm/jobs-ingest/internal/orchestrator"
	"github.com/jobgtm/jobs-ingest/internal/run"
)

type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *extractor.Registry
	Runs         *run.Service
	Listings     *listing.Service
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(deps Deps) http.Handler {
	h := &handler{deps: deps}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/sources", h.listSources)
	mux.HandleFunc("POST /api/v1/runs", h.startRun)
	mux.HandleFunc("GET /api/v1/runs", h.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)
	mux.HandleFunc("GET /api/v1/listings", h.listListings)

	// Middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
