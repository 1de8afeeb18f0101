package model

import "time"

// Run verdict constants. TestFailures, BudgetExceeded and Incomplete are
// independent signals; the verdict string records the highest-precedence one
// (incomplete > budget_exceeded > test_failures > success).
const (
	VerdictSuccess        = "success"
	VerdictTestFailures   = "test_failures"
	VerdictBudgetExceeded = "budget_exceeded"
	VerdictIncomplete     = "incomplete"
	VerdictPending        = "pending"
)

// Run is the state of one pipeline invocation.
type Run struct {
	ID         string     `json:"run_id"`
	TotalTests int        `json:"total_tests"`
	Verdict    string     `json:"verdict"`
	BudgetMS   int64      `json:"budget_ms"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
