package api

import "github.com/seantiz/splay/internal/model"

// Wire types for the queue service boundary. Shared with the HTTP queue
// client so both sides marshal the same shapes.

// StartRunRequest is the JSON body for POST /v1/runs.
type StartRunRequest struct {
	ChangedFiles []string `json:"changed_files"`
}

// StartRunResponse acknowledges a started run.
type StartRunResponse struct {
	RunID      string `json:"run_id"`
	TotalTests int    `json:"total_tests"`
	Batches    int    `json:"batches"`
}

// LeaseRequest is the JSON body for POST /v1/queue/lease.
type LeaseRequest struct {
	RunID   string `json:"run_id"`
	AgentID string `json:"agent_id"`
}

// LeaseResponse carries a claimed batch and its resolved test cases.
type LeaseResponse struct {
	Batch *model.Batch     `json:"batch"`
	Tests []model.TestCase `json:"tests"`
}

// AckRequest is the JSON body for POST /v1/queue/ack.
type AckRequest struct {
	RunID   string            `json:"run_id"`
	BatchID string            `json:"batch_id"`
	AgentID string            `json:"agent_id"`
	Results []model.RunResult `json:"results"`
}

// ExtendRequest is the JSON body for POST /v1/queue/extend.
type ExtendRequest struct {
	RunID   string `json:"run_id"`
	BatchID string `json:"batch_id"`
	AgentID string `json:"agent_id"`
}

// HeartbeatRequest is the JSON body for POST /v1/queue/heartbeat.
type HeartbeatRequest struct {
	RunID   string `json:"run_id"`
	AgentID string `json:"agent_id"`
}
