package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentserver",
	Short: "Self-hosted AI coding agent execution platform",
	Long:  `agentserver runs a sandboxed coding agent per user, exposing it over a WebSocket and a thin HTTP control surface.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
