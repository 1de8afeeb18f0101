package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/run"
	"github.com/seantiz/splay/internal/selector"
	"github.com/seantiz/splay/internal/store"
)

const maxBodySize = 1 << 20 // 1 MB

// runResponse combines the durable run record with the live report when this
// process still holds the run.
type runResponse struct {
	Run    *model.Run  `json:"run"`
	Report *run.Report `json:"report,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rn, err := s.coord.StartRun(r.Context(), req.ChangedFiles)
	if errors.Is(err, selector.ErrSelectorUnavailable) {
		s.writeError(w, http.StatusBadGateway, "test selector unavailable")
		return
	}
	if err != nil {
		s.logger.Error("start run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	s.mu.Lock()
	s.runs[rn.ID] = rn
	s.mu.Unlock()

	activeRunsGauge.Inc()
	go func() {
		<-rn.Done()
		activeRunsGauge.Dec()
	}()

	batches := rn.Queue.Snapshot()
	total := 0
	for _, b := range batches {
		total += len(b.TestIDs)
	}

	s.writeJSON(w, http.StatusCreated, StartRunResponse{
		RunID:      rn.ID,
		TotalTests: total,
		Batches:    len(batches),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	resp := runResponse{Run: rec}
	if rn := s.liveRun(id); rn != nil {
		resp.Report = rn.Report()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Prefer the live queue; it is authoritative while the run is in flight.
	if rn := s.liveRun(id); rn != nil {
		s.writeJSON(w, http.StatusOK, rn.Queue.Snapshot())
		return
	}

	batches, err := s.store.ListBatches(r.Context(), id)
	if err != nil {
		s.logger.Error("list batches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if batches == nil {
		batches = []*model.Batch{}
	}
	s.writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stats, err := s.store.RunStats(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rn := s.liveRun(id)
	if rn == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	rn.Abort()
	s.logger.Info("run aborted via api", "run_id", id)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
