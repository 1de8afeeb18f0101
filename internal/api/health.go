package api

import "net/http"

type healthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

// activeRuns counts live runs that have not yet quiesced.
func (s *Server) activeRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rn := range s.runs {
		if !rn.Complete() {
			n++
		}
	}
	return n
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		ActiveRuns: s.activeRuns(),
	})
}
