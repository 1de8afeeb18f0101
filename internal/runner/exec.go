package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/seantiz/splay/internal/model"
)

// filePlaceholder in the command template is replaced with the test file path.
const filePlaceholder = "{file}"

// ExecRunner shells out to the external test runner once per test file. The
// command template is split on whitespace; the {file} placeholder is replaced
// with the test's file path, or the path is appended when no placeholder is
// present.
type ExecRunner struct {
	Command string
	Dir     string
}

// NewExecRunner creates an exec runner for the given command template.
func NewExecRunner(command, dir string) (*ExecRunner, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("exec runner requires a command template")
	}
	return &ExecRunner{Command: command, Dir: dir}, nil
}

// Run executes the test file and classifies the outcome: exit 0 is a pass,
// a non-zero exit is a fail, anything that prevented the command from running
// at all is an error result. All three are normal acked outcomes.
func (e *ExecRunner) Run(ctx context.Context, tc model.TestCase) (model.RunResult, error) {
	args := e.buildArgs(tc.FilePath)

	start := time.Now()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.Dir
	err := cmd.Run()
	durationMS := time.Since(start).Milliseconds()

	res := model.RunResult{
		TestID:     tc.ID,
		Status:     model.ResultPass,
		DurationMS: durationMS,
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		// The agent is shutting down or the lease context was cancelled:
		// the batch was not completed, surface a crash so it is not acked.
		return model.RunResult{}, ctx.Err()
	default:
		if _, ok := err.(*exec.ExitError); ok {
			res.Status = model.ResultFail
		} else {
			res.Status = model.ResultError
		}
	}

	return res, nil
}

func (e *ExecRunner) buildArgs(filePath string) []string {
	fields := strings.Fields(e.Command)
	replaced := false
	args := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if strings.Contains(f, filePlaceholder) {
			f = strings.ReplaceAll(f, filePlaceholder, filePath)
			replaced = true
		}
		args = append(args, f)
	}
	if !replaced {
		args = append(args, filePath)
	}
	return args
}
