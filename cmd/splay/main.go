package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/splay/internal/config"
	"github.com/seantiz/splay/internal/runner"
	"github.com/seantiz/splay/internal/selector"
)

// exitError carries a process exit code out of a command so deferred cleanup
// still runs; main owns the actual os.Exit.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "splay",
		Short:         "Distributed test scheduler: spread a test suite across parallel agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAgentCmd())
	rootCmd.AddCommand(newRunCmd())

	if err := rootCmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newSelector picks the test selector source: an explicit manifest file wins,
// otherwise the configured selector service URL.
func newSelector(cfg config.Config, manifest string) (selector.Selector, error) {
	if manifest != "" {
		return &selector.FileSelector{Path: manifest}, nil
	}
	if cfg.SelectorURL != "" {
		return selector.NewHTTPSelector(cfg.SelectorURL), nil
	}
	return nil, fmt.Errorf("no selector configured: set %s or pass --manifest", "SPLAY_SELECTOR_URL")
}

// newRunner builds the runner registry and resolves the configured runner.
func newRunner(cfg config.Config) (runner.Runner, error) {
	reg := runner.NewRegistry()
	reg.Register("sim", &runner.SimRunner{Scale: 100})
	if cfg.RunCommand != "" {
		exec, err := runner.NewExecRunner(cfg.RunCommand, "")
		if err != nil {
			return nil, err
		}
		reg.Register("exec", exec)
	}

	rn, err := reg.Resolve(cfg.Runner)
	if err != nil {
		return nil, fmt.Errorf("%w (registered: %v)", err, reg.List())
	}
	return rn, nil
}
