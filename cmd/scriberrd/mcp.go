package main

import (
	"os"
	"os/signal"
	"syscall"

	"transcriflow/internal/mcptools"
	"transcriflow/pkg/logger"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the agent-tool (MCP) surface over stdio",
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// runMCP drives the same orchestration core as serve, but exposes it as
// the six MCP tools over stdio (spec §6.1) instead of HTTP routes — the
// other half of "dual exposure modes are surface adapters around the
// same core".
func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	srv := mcptools.New(a.core, "transcriflow", "1.0.0")

	done := make(chan error, 1)
	go func() { done <- srv.ServeStdio() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-done:
		if err != nil {
			logger.Error("mcp server exited", "error", err)
		}
	}

	a.shutdown()
	return nil
}
