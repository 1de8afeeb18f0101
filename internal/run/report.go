package run

import (
	"time"

	"github.com/seantiz/splay/internal/model"
)

// Report is the final account of a run. TestFailures, BudgetExceeded and
// Incomplete are independent signals; Verdict and ExitCode collapse them with
// precedence incomplete > budget exceeded > test failures.
type Report struct {
	RunID      string `json:"run_id"`
	TotalTests int    `json:"total_tests"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Errored    int    `json:"errored"`
	Missing    int    `json:"missing"`

	FailedBatches int           `json:"permanently_failed_batches"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	Budget        time.Duration `json:"budget_ns"`

	TestFailures   bool `json:"test_failures"`
	BudgetExceeded bool `json:"budget_exceeded"`
	Incomplete     bool `json:"incomplete"`
}

// Process exit codes for the run verdict.
const (
	ExitSuccess        = 0
	ExitTestFailures   = 1
	ExitBudgetExceeded = 2
	ExitIncomplete     = 3
)

// Verdict returns the run verdict string for the highest-precedence signal.
func (r *Report) Verdict() string {
	switch {
	case r.Incomplete:
		return model.VerdictIncomplete
	case r.BudgetExceeded:
		return model.VerdictBudgetExceeded
	case r.TestFailures:
		return model.VerdictTestFailures
	default:
		return model.VerdictSuccess
	}
}

// ExitCode maps the verdict to the process exit code.
func (r *Report) ExitCode() int {
	switch {
	case r.Incomplete:
		return ExitIncomplete
	case r.BudgetExceeded:
		return ExitBudgetExceeded
	case r.TestFailures:
		return ExitTestFailures
	default:
		return ExitSuccess
	}
}
