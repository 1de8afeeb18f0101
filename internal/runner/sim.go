package runner

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/splay/internal/model"
)

// ErrSimulatedCrash is returned by SimRunner for tests scripted to crash.
var ErrSimulatedCrash = errors.New("simulated crash")

// SimRunner simulates test execution by sleeping a scaled fraction of the
// estimated duration. Used by tests and local demos; Fail, Error and Crash
// select tests by id for scripted outcomes.
type SimRunner struct {
	// Scale divides the estimated duration; 0 means do not sleep at all.
	Scale int64

	Fail  map[string]bool
	Error map[string]bool
	Crash map[string]bool
}

// Run sleeps and reports the scripted outcome for the test.
func (s *SimRunner) Run(ctx context.Context, tc model.TestCase) (model.RunResult, error) {
	start := time.Now()

	if s.Scale > 0 {
		select {
		case <-time.After(time.Duration(tc.EstimatedDurationMS/s.Scale) * time.Millisecond):
		case <-ctx.Done():
			return model.RunResult{}, ctx.Err()
		}
	}

	if s.Crash[tc.ID] {
		return model.RunResult{}, ErrSimulatedCrash
	}

	status := model.ResultPass
	if s.Fail[tc.ID] {
		status = model.ResultFail
	} else if s.Error[tc.ID] {
		status = model.ResultError
	}

	return model.RunResult{
		TestID:     tc.ID,
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}
