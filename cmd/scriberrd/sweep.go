package main

import (
	"context"
	"path/filepath"

	"transcriflow/internal/artifact"
	"transcriflow/internal/broker"
	"transcriflow/internal/retention"
	"transcriflow/internal/store"
	"transcriflow/pkg/logger"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention pass and exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

// runSweep opens the store directly rather than the full app graph: a
// one-shot sweep has no need for the worker pool or either surface
// adapter.
func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cmd.OutOrStdout())

	st, err := store.Open(filepath.Join(cfg.WorkDir, "transcriflow.db"), broker.New())
	if err != nil {
		return err
	}

	sweeper := retention.New(retention.Config{Horizon: cfg.RetentionHorizon()}, st, artifact.New(filepath.Join(cfg.WorkDir, "artifacts")))
	n, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		return err
	}
	logger.Info("retention sweep complete", "removed", n)
	return nil
}
