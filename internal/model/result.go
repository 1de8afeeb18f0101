package model

import "time"

// Per-test result status constants.
const (
	ResultPass  = "pass"
	ResultFail  = "fail"
	ResultError = "error"
)

// Agent status constants.
const (
	AgentActive = "active"
	AgentDead   = "dead"
)

// RunResult is the outcome of executing a single test. Immutable once recorded.
type RunResult struct {
	TestID     string    `json:"test_id"`
	AgentID    string    `json:"agent_id"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Agent is one registered worker process. Agents register implicitly on their
// first lease or heartbeat and are marked dead when they go silent.
type Agent struct {
	ID              string    `json:"agent_id"`
	RunID           string    `json:"run_id"`
	Status          string    `json:"status"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	RegisteredAt    time.Time `json:"registered_at"`
}
