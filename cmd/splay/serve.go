package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/splay/internal/api"
	"github.com/seantiz/splay/internal/config"
	"github.com/seantiz/splay/internal/run"
	"github.com/seantiz/splay/internal/store"
)

func newServeCmd() *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator: HTTP API, work queue and run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := config.NewLogger(os.Stdout, cfg.LogLevel)

			logger.Info("splay coordinator starting",
				"listen_addr", cfg.ListenAddr,
				"db_path", cfg.DBPath,
				"agents", cfg.Agents,
			)

			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			sel, err := newSelector(cfg, manifest)
			if err != nil {
				return err
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

			srv := api.NewServer(cfg.ListenAddr, coord, db, logger)
			return srv.Run()
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "", "Path to a JSON test manifest instead of the selector service")

	return cmd
}
