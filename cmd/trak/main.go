// Package main is the trak CLI: a daemon that turns coding-agent
// lifecycle events into voice, Discord, and console notifications.
//
// Start the daemon:
//
//	trak serve --config trak.yaml
//
// Inspect it:
//
//	trak status
//	trak events tail myproject
//
// Manage API keys:
//
//	trak keys create --name laptop
//	trak keys list
//	trak keys revoke 3
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trak",
		Short: "trak - notification daemon for coding agents",
		Long: `trak ingests lifecycle events from coding-agent hooks, tracks
per-session transactions, and announces completed work over TTS audio,
Discord, and the console.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildStopCmd(),
		buildKeysCmd(),
		buildEventsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("trak %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
