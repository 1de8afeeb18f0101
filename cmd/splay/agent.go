package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/splay/internal/agent"
	"github.com/seantiz/splay/internal/config"
	"github.com/seantiz/splay/internal/model"
)

func newAgentCmd() *cobra.Command {
	var (
		runID       string
		agentID     string
		coordinator string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run one worker agent against a remote coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run is required")
			}

			cfg := config.Load()
			logger := config.NewLogger(os.Stdout, cfg.LogLevel)

			if coordinator == "" {
				coordinator = cfg.CoordinatorURL
			}
			if agentID == "" {
				agentID = model.NewID()
			}

			rn, err := newRunner(cfg)
			if err != nil {
				return err
			}

			logger.Info("splay agent starting",
				"agent_id", agentID,
				"run_id", runID,
				"coordinator", coordinator,
				"runner", cfg.Runner,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := &agent.Agent{
				ID:           agentID,
				Client:       agent.NewHTTPClient(coordinator, runID),
				Runner:       rn,
				Logger:       logger,
				PollInterval: cfg.PollInterval,
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id to pull work for")
	cmd.Flags().StringVar(&agentID, "id", "", "Agent identity (default: a fresh ULID)")
	cmd.Flags().StringVar(&coordinator, "coordinator", "", "Coordinator base URL (default: SPLAY_COORDINATOR_URL)")

	return cmd
}
