package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seantiz/splay/internal/queue"
)

// Queue endpoints translate the queue's sentinel errors into HTTP status
// codes the agent client maps straight back:
//
//	204 no pending work right now, poll again
//	410 drained, stop polling
//	403 agent declared dead
//	409 stale ack or extension
//	404 unknown run or batch

func (s *Server) decodeQueueRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	var req LeaseRequest
	if !s.decodeQueueRequest(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		s.writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	rn := s.liveRun(req.RunID)
	if rn == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	batch, err := rn.Queue.Lease(r.Context(), req.AgentID)
	switch {
	case errors.Is(err, queue.ErrNoWork):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, queue.ErrDrained):
		s.writeError(w, http.StatusGone, "queue drained")
		return
	case errors.Is(err, queue.ErrAgentDead):
		s.writeError(w, http.StatusForbidden, "agent marked dead")
		return
	case err != nil:
		s.logger.Error("lease", "run_id", req.RunID, "agent_id", req.AgentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to lease batch")
		return
	}

	s.writeJSON(w, http.StatusOK, LeaseResponse{
		Batch: batch,
		Tests: rn.ResolveTests(batch.TestIDs),
	})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req AckRequest
	if !s.decodeQueueRequest(w, r, &req) {
		return
	}

	rn := s.liveRun(req.RunID)
	if rn == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	err := rn.Queue.Ack(r.Context(), req.BatchID, req.AgentID, req.Results)
	if !s.writeQueueError(w, req.RunID, "ack", err) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !s.decodeQueueRequest(w, r, &req) {
		return
	}

	rn := s.liveRun(req.RunID)
	if rn == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	err := rn.Queue.ExtendLease(r.Context(), req.BatchID, req.AgentID)
	if !s.writeQueueError(w, req.RunID, "extend", err) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if !s.decodeQueueRequest(w, r, &req) {
		return
	}

	rn := s.liveRun(req.RunID)
	if rn == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	err := rn.Queue.Heartbeat(r.Context(), req.AgentID)
	if !s.writeQueueError(w, req.RunID, "heartbeat", err) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeQueueError maps a queue error onto the response and reports whether
// the handler may proceed with its success path.
func (s *Server) writeQueueError(w http.ResponseWriter, runID, op string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, queue.ErrUnknownBatch):
		s.writeError(w, http.StatusNotFound, "unknown batch")
	case errors.Is(err, queue.ErrStaleAck):
		s.writeError(w, http.StatusConflict, "lease no longer held")
	case errors.Is(err, queue.ErrAgentDead):
		s.writeError(w, http.StatusForbidden, "agent marked dead")
	default:
		s.logger.Error(op, "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "queue operation failed")
	}
	return false
}
