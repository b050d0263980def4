package cmd

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jarvis-automation/jarvis/pkg/client"
)

var (
	relayURL       string
	commandSecret  string
	commandTimeout time.Duration

	// Version is set by the main package via ldflags.
	Version = "dev"
)

// NewRootCmd creates the root jarvisctl command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "jarvisctl",
		Short:   "Jarvis CLI: send commands to nodes through the relay",
		Version: Version,
		// cobra prints usage alongside a RunE error.
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("a subcommand is required")
		},
	}

	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", envOr("JARVIS_RELAY_URL", "ws://127.0.0.1:8765"), "relay websocket URL")
	rootCmd.PersistentFlags().StringVar(&commandSecret, "secret", os.Getenv("JARVIS_COMMAND_SECRET"), "shared secret for signing commands")
	rootCmd.PersistentFlags().DurationVar(&commandTimeout, "timeout", client.DefaultCommandTimeout, "how long to wait for a command response")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newFindCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newScreenshotCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newClickCmd())
	rootCmd.AddCommand(newTypeCmd())
	rootCmd.AddCommand(newHotkeyCmd())
	rootCmd.AddCommand(newOllamaCmd())
	rootCmd.AddCommand(newLuaCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newSecretsCmd())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
