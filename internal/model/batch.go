package model

import "time"

// Batch state constants.
const (
	BatchPending   = "pending"
	BatchLeased    = "leased"
	BatchCompleted = "completed"
	BatchFailed    = "permanently_failed"
)

// validTransitions maps each batch state to the set of states it may transition to.
// Completed and permanently_failed are terminal.
var validTransitions = map[string]map[string]bool{
	BatchPending: {
		BatchLeased: true,
	},
	BatchLeased: {
		BatchCompleted: true,
		BatchPending:   true,
		BatchFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one batch state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a batch state is terminal.
func Terminal(state string) bool {
	return state == BatchCompleted || state == BatchFailed
}

// TestCase is one selected test with its duration estimate. Produced once per
// run by the selector and never mutated.
type TestCase struct {
	ID                  string `json:"test_id"`
	FilePath            string `json:"file_path"`
	EstimatedDurationMS int64  `json:"estimated_duration_ms"`
}

// Batch is a group of tests leased and acknowledged as a unit. Seq is the
// position in the partitioner's interleaved sequence; the queue offers batches
// in Seq order.
type Batch struct {
	ID                  string     `json:"batch_id"`
	RunID               string     `json:"run_id"`
	Seq                 int        `json:"seq"`
	TestIDs             []string   `json:"test_ids"`
	EstimatedDurationMS int64      `json:"estimated_duration_ms"`
	State               string     `json:"state"`
	LeaseOwner          string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt      *time.Time `json:"lease_expires_at,omitempty"`
	AttemptCount        int        `json:"attempt_count"`
	CreatedAt           time.Time  `json:"created_at"`
}
