package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/splay/internal/agent"
	"github.com/seantiz/splay/internal/config"
	"github.com/seantiz/splay/internal/run"
	"github.com/seantiz/splay/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		manifest string
		changed  []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full pipeline in one process: select, partition, execute, verdict",
		Long: "Runs the coordinator and all agents inside a single process. Agents are\n" +
			"goroutines pulling from the in-memory queue; the process exit code encodes\n" +
			"the verdict (0 success, 1 test failures, 2 budget exceeded, 3 incomplete).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := config.NewLogger(os.Stderr, cfg.LogLevel)

			sel, err := newSelector(cfg, manifest)
			if err != nil {
				return err
			}
			rnr, err := newRunner(cfg)
			if err != nil {
				return err
			}

			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			coord := run.NewCoordinator(sel, db, run.Config{
				Agents:           cfg.Agents,
				ChunkFactor:      cfg.ChunkFactor,
				LeaseTTL:         cfg.LeaseTTL,
				MaxAttempts:      cfg.MaxAttempts,
				HeartbeatTimeout: cfg.HeartbeatTimeout,
				SweepInterval:    cfg.SweepInterval,
				Budget:           cfg.Budget,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rn, err := coord.StartRun(ctx, changed)
			if err != nil {
				db.Close()
				return err
			}

			agentCtx, cancelAgents := context.WithCancel(ctx)
			var wg sync.WaitGroup
			for i := 0; i < cfg.Agents; i++ {
				a := &agent.Agent{
					ID:           fmt.Sprintf("agent-%d", i+1),
					Client:       &agent.LocalClient{Run: rn},
					Runner:       rnr,
					Logger:       logger,
					PollInterval: cfg.PollInterval,
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := a.Run(agentCtx); err != nil && agentCtx.Err() == nil {
						logger.Error("agent stopped", "agent_id", a.ID, "error", err)
					}
				}()
			}

			rep := rn.Await(ctx)
			cancelAgents()
			wg.Wait()
			db.Close()

			printSummary(os.Stdout, rep)
			if code := rep.ExitCode(); code != run.ExitSuccess {
				return exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "", "Path to a JSON test manifest instead of the selector service")
	cmd.Flags().StringSliceVar(&changed, "changed", nil, "Changed file paths passed to the selector")

	return cmd
}
