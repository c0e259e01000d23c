package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/store"
	"github.com/vitrine-search/vitrine/internal/telemetry"
)

type taskResponse struct {
	Task *pipeline.TaskHandle `json:"task"`
}

type reindexResponse struct {
	Submitted int `json:"submitted"`
}

type deadLettersResponse struct {
	DeadLetters []*store.DeadLetter `json:"dead_letters"`
}

type statsResponse struct {
	Items     itemStats               `json:"items"`
	Vectors   *store.CollectionStats  `json:"vectors"`
	Pipeline  pipeline.Stats          `json:"pipeline"`
	Search    *store.SearchEventStats `json:"search"`
	Analytics *telemetry.Snapshot     `json:"analytics,omitempty"`
	Version   string                  `json:"version,omitempty"`
}

type itemStats struct {
	Total      int                   `json:"total"`
	Categories []store.CategoryCount `json:"categories,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type detailedHealthResponse struct {
	Status  string                 `json:"status"`
	Checks  map[string]healthCheck `json:"checks"`
	Version string                 `json:"version,omitempty"`
}

// handleSubmitIndex queues (re-)indexing for one item. The body may
// carry an asset_url override for this run only.
func (s *Server) handleSubmitIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetURL string `json:"asset_url,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	externalID := chi.URLParam(r, "externalID")
	// Submission itself never checks existence; surface the 404 here
	// instead of a task that skips later.
	if _, err := s.deps.Metadata.GetItemByExternalID(r.Context(), externalID); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.deps.Pipeline.SubmitIndex(r.Context(), externalID, req.AssetURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskResponse{Task: task})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	submitted, err := s.deps.Pipeline.SubmitReindexAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, reindexResponse{Submitted: submitted})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Pipeline.TaskStatus(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}

	letters, err := s.deps.Metadata.ListDeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if letters == nil {
		letters = []*store.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, deadLettersResponse{DeadLetters: letters})
}

func (s *Server) handleRequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, vitrineerrors.ValidationError("dead letter id must be an integer", err))
		return
	}

	task, err := s.deps.Pipeline.RequeueDeadLetter(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskResponse{Task: task})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Pipeline.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.deps.Metadata.CountItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	categories, err := s.deps.Metadata.CategoryCounts(r.Context(), 10)
	if err != nil {
		writeError(w, err)
		return
	}
	searchStats, err := s.deps.Metadata.GetSearchEventStats(r.Context(), time.Time{})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statsResponse{
		Items:    itemStats{Total: total, Categories: categories},
		Vectors:  s.deps.Vectors.CollectionStats(),
		Pipeline: s.deps.Pipeline.Stats(),
		Search:   searchStats,
		Version:  s.deps.Version,
	}
	if s.deps.Metrics != nil {
		resp.Analytics = s.deps.Metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.deps.Version})
}

// handleHealthDetailed probes every collaborator. Degraded state
// answers 503 so load balancers stop routing, but the body still
// carries the per-check breakdown.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]healthCheck)

	if _, err := s.deps.Metadata.CountItems(r.Context()); err != nil {
		checks["metadata"] = healthCheck{Status: "error", Error: err.Error()}
	} else {
		checks["metadata"] = healthCheck{Status: "ok"}
	}

	// A closed index reports an empty collection with zero dimensions.
	if stats := s.deps.Vectors.CollectionStats(); stats != nil && stats.Dimensions > 0 {
		checks["vectors"] = healthCheck{Status: "ok"}
	} else {
		checks["vectors"] = healthCheck{Status: "error", Error: "vector index is closed"}
	}

	if s.deps.Embedder.Available(r.Context()) {
		checks["embedder"] = healthCheck{Status: "ok"}
	} else {
		checks["embedder"] = healthCheck{Status: "error", Error: "embedder is unavailable"}
	}

	checks["pipeline"] = healthCheck{Status: "ok"}

	status := "ok"
	code := http.StatusOK
	for _, c := range checks {
		if c.Status != "ok" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, detailedHealthResponse{
		Status:  status,
		Checks:  checks,
		Version: s.deps.Version,
	})
}
