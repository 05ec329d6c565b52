// Package server exposes a read-only HTTP API over the checkpoint store:
// current watermarks, recent sync runs, and per-source results.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brightpath-labs/mentorsync/internal/checkpoint"
	"github.com/brightpath-labs/mentorsync/pkg/core"
)

const defaultRunListLimit = 20

// runDetail is a sync run together with its per-source results.
type runDetail struct {
	*core.SyncRun
	Sources []*core.SourceResult `json:"sources"`
}

// NewRouter builds the status API router.
func NewRouter(store checkpoint.Store, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &statusServer{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/checkpoints", s.handleCheckpoints)
	r.Get("/api/runs", s.handleRuns)
	r.Get("/api/runs/{id}", s.handleRun)

	return r
}

type statusServer struct {
	store  checkpoint.Store
	logger *slog.Logger
}

func (s *statusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *statusServer) handleCheckpoints(w http.ResponseWriter, _ *http.Request) {
	checkpoints, err := s.store.ListCheckpoints()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkpoints)
}

func (s *statusServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *statusServer) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(id)
	if err != nil {
		if errors.Is(err, checkpoint.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.writeError(w, err)
		return
	}

	results, err := s.store.GetSourceResults(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, runDetail{SyncRun: run, Sources: results})
}

func (s *statusServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *statusServer) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("status API request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
