// Service install/start/stop/uninstall/service-run subcommands, grounded in the
// teacher's internal/cli/service.go kardianos/service integration,
// retargeted at running "serve" instead of a folder watcher.
package main

import (
	"fmt"
	"os"

	"transcriflow/pkg/logger"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install scriberrd as a background service",
	RunE:  runInstall,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the installed service",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the installed service",
	RunE:  runStop,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the service",
	RunE:  runUninstall,
}

var serviceRunCmd = &cobra.Command{
	Use:    "service-run",
	Hidden: true,
	RunE:   runServiceRun,
}

func init() {
	rootCmd.AddCommand(installCmd, startCmd, stopCmd, uninstallCmd, serviceRunCmd)
}

func serviceConfig() (*service.Config, error) {
	ex, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &service.Config{
		Name:        "transcriflow",
		DisplayName: "Transcriflow Orchestration Daemon",
		Description: "Submits audio files for transcription and diarization over HTTP/SSE and MCP.",
		Executable:  ex,
		Arguments:   []string{"service-run"},
	}, nil
}

type program struct{}

func (p *program) Start(s service.Service) error {
	go func() {
		if err := runServe(serveCmd, nil); err != nil {
			logger.Error("service run failed", "error", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	return nil
}

func newService() (service.Service, error) {
	cfg, err := serviceConfig()
	if err != nil {
		return nil, err
	}
	return service.New(&program{}, cfg)
}

func runInstall(cmd *cobra.Command, args []string) error {
	s, err := newService()
	if err != nil {
		return err
	}
	if err := s.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	fmt.Fprintln(os.Stdout, "service installed")
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	s, err := newService()
	if err != nil {
		return err
	}
	return s.Start()
}

func runStop(cmd *cobra.Command, args []string) error {
	s, err := newService()
	if err != nil {
		return err
	}
	return s.Stop()
}

func runUninstall(cmd *cobra.Command, args []string) error {
	s, err := newService()
	if err != nil {
		return err
	}
	return s.Uninstall()
}

// runServiceRun is the hidden entrypoint the service manager invokes:
// it hosts the program under the service runtime rather than calling
// runServe directly, so platform-specific service semantics (Windows
// service control, systemd notify) are honored.
func runServiceRun(cmd *cobra.Command, args []string) error {
	s, err := newService()
	if err != nil {
		return err
	}
	return s.Run()
}
