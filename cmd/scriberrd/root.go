package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scriberrd",
	Short: "Transcription orchestration daemon",
	Long:  "scriberrd submits audio files for transcription and diarization, exposing both an HTTP/SSE surface and an agent-tool (MCP) surface over the same orchestration core.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
