// Package selector obtains the set of tests that must run for a change. The
// selector is the single source of truth for "what must run": any transport
// error or malformed response aborts the run before a single batch is leased.
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/splay/internal/model"
)

// ErrSelectorUnavailable is returned when the selector cannot produce a
// trustworthy test list. No partial selection is ever accepted.
var ErrSelectorUnavailable = errors.New("selector unavailable")

// Selector maps a set of changed file paths to the tests that must run.
type Selector interface {
	Select(ctx context.Context, changedFiles []string) ([]model.TestCase, error)
}

// Validate checks a selector response for malformed tuples. Empty ids and
// negative duration estimates make the whole selection untrustworthy.
func Validate(tests []model.TestCase) error {
	seen := make(map[string]bool, len(tests))
	for i, tc := range tests {
		if tc.ID == "" {
			return fmt.Errorf("%w: entry %d has empty test_id", ErrSelectorUnavailable, i)
		}
		if tc.EstimatedDurationMS < 0 {
			return fmt.Errorf("%w: test %s has negative duration estimate", ErrSelectorUnavailable, tc.ID)
		}
		if seen[tc.ID] {
			return fmt.Errorf("%w: duplicate test_id %s", ErrSelectorUnavailable, tc.ID)
		}
		seen[tc.ID] = true
	}
	return nil
}

// Static is a fixed-list selector for tests and single-process runs.
type Static struct {
	Tests []model.TestCase
	Err   error
}

func (s *Static) Select(_ context.Context, _ []string) ([]model.TestCase, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if err := Validate(s.Tests); err != nil {
		return nil, err
	}
	return s.Tests, nil
}
