// commands.go contains the cobra command definitions and their flag
// configurations. Each builder wires a command to its handler.
package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigName = "trak.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the trak daemon",
		Long: `Start the daemon: open the database, recover unfinished
transactions, and serve the HTTP API until SIGINT/SIGTERM.

A second invocation against a live daemon exits with an error.`,
		Example: `  # Zero-config development daemon
  trak serve

  # Production config
  trak serve --config /etc/trak/trak.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildStopCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(buildKeysCreateCmd(), buildKeysListCmd(), buildKeysRevokeCmd())
	return cmd
}

func buildKeysCreateCmd() *cobra.Command {
	var (
		configPath string
		name       string
		projectID  string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create a new API key. The plaintext key is printed exactly once;
only its digest is stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(cmd.Context(), configPath, name, projectID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Human-readable key name (required)")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Optional project scope")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func buildKeysListCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList(cmd.Context(), configPath, all)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include revoked keys")
	return cmd
}

func buildKeysRevokeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysRevoke(cmd.Context(), configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event stream",
	}
	cmd.AddCommand(buildEventsTailCmd())
	return cmd
}

func buildEventsTailCmd() *cobra.Command {
	var (
		configPath string
		apiKey     string
	)
	cmd := &cobra.Command{
		Use:   "tail <project>",
		Short: "Stream a project's events to stdout",
		Long: `Connect to the daemon's live event stream for a project and print
frames as they arrive. Ctrl-C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsTail(cmd.Context(), configPath, args[0], apiKey)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&apiKey, "key", "k", "", "API key (defaults to TRAK_API_KEY)")
	return cmd
}
