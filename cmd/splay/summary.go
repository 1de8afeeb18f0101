package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/seantiz/splay/internal/run"
)

// printSummary renders the run verdict for humans. Structured logs carry the
// same data for machines; this is the line a CI log tail shows.
func printSummary(w io.Writer, rep *run.Report) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w)
	bold.Fprintf(w, "Run %s\n", rep.RunID)
	fmt.Fprintf(w, "  tests:   %d total\n", rep.TotalTests)
	green.Fprintf(w, "  passed:  %d\n", rep.Passed)
	if rep.Failed > 0 {
		red.Fprintf(w, "  failed:  %d\n", rep.Failed)
	}
	if rep.Errored > 0 {
		red.Fprintf(w, "  errored: %d\n", rep.Errored)
	}
	if rep.Missing > 0 {
		yellow.Fprintf(w, "  missing: %d\n", rep.Missing)
	}
	if rep.FailedBatches > 0 {
		yellow.Fprintf(w, "  permanently failed batches: %d\n", rep.FailedBatches)
	}
	fmt.Fprintf(w, "  elapsed: %s (budget %s)\n", rep.Elapsed.Round(time.Millisecond), rep.Budget)

	verdict := rep.Verdict()
	switch rep.ExitCode() {
	case run.ExitSuccess:
		green.Fprintf(w, "  verdict: %s\n", verdict)
	case run.ExitTestFailures:
		red.Fprintf(w, "  verdict: %s\n", verdict)
	default:
		yellow.Fprintf(w, "  verdict: %s\n", verdict)
	}
}
