package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jobgtm/jobs-ingest/internal/apperror"
	"github.com/jobgtm/jobs-ingest/internal/orchestrator"
	"github.com/jobgtm/jobs-ingest/internal/run"
)

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Registry.Sources())
}

type startRunRequest struct {
	Source   string         `json:"source"`
	MaxPages int            `json:"maxPages"`
	Params   map[string]any `json:"params"`
}

type startRunResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

func (h *handler) startRun(w http.ResponseWriter, r *http.Request) {
	var body startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runID, err := h.deps.Orchestrator.Start(r.Context(), orchestrator.StartRequest{
		Source:   body.Source,
		MaxPages: body.MaxPages,
		Params:   body.Params,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:  runID,
		Status: string(run.StatusStarted),
	})
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	req := run.GetRunRequest{RunID: r.PathValue("id")}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	wr, err := h.deps.Runs.Get(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.deps.Runs.List(r.Context(), run.ListRunsRequest{
		Source: r.URL.Query().Get("source"),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) listListings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	listings, err := h.deps.Listings.List(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func writeAppError(w http.ResponseWriter, err error) {
	if ae, ok := apperror.From(err); ok {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
