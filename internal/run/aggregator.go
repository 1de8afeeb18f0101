package run

import (
	"sync"

	"github.com/seantiz/splay/internal/model"
)

// Aggregator accumulates per-test results keyed by test id. Duplicate results
// for the same test (a stale-ack race that slipped through) are deduplicated
// by keeping the first received.
type Aggregator struct {
	mu       sync.Mutex
	expected map[string]bool
	results  map[string]model.RunResult
}

// NewAggregator creates an aggregator expecting results for the given tests.
func NewAggregator(tests []model.TestCase) *Aggregator {
	expected := make(map[string]bool, len(tests))
	for _, tc := range tests {
		expected[tc.ID] = true
	}
	return &Aggregator{
		expected: expected,
		results:  make(map[string]model.RunResult),
	}
}

// Record stores a result unless one already exists for the test id.
func (a *Aggregator) Record(r model.RunResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.results[r.TestID]; ok {
		return
	}
	a.results[r.TestID] = r
}

// Results returns a copy of all recorded results.
func (a *Aggregator) Results() []model.RunResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.RunResult, 0, len(a.results))
	for _, r := range a.results {
		out = append(out, r)
	}
	return out
}

// Tally counts recorded results by status and how many expected tests are
// still missing a result.
func (a *Aggregator) Tally() (passed, failed, errored, missing int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.results {
		switch r.Status {
		case model.ResultPass:
			passed++
		case model.ResultFail:
			failed++
		default:
			errored++
		}
	}
	for id := range a.expected {
		if _, ok := a.results[id]; !ok {
			missing++
		}
	}
	return passed, failed, errored, missing
}
