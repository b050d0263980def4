package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jarvis-automation/jarvis/internal/node"
)

var version = "dev"

func main() {
	var (
		cfgFile  string
		relayURL string
		name     string
	)

	rootCmd := &cobra.Command{
		Use:     "jarvis-node",
		Short:   "Jarvis node agent: registers this machine's capabilities with the relay and runs its commands",
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(
				zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			).With().Timestamp().Logger()

			cfg, err := node.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			override := func(c *node.Config) {
				if relayURL != "" {
					c.Relay.URL = relayURL
				}
				if name != "" {
					c.Node.Name = name
				}
			}
			override(&cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a := node.New(ctx, cfg, logger)

			if cfg.Node.WatchConfig && cfg.File != "" {
				if err := a.WatchConfig(ctx, cfg.File, a.ReloadFrom(cfg.File, override)); err != nil {
					logger.Warn().Err(err).Str("file", cfg.File).Msg("config watch disabled")
				}
			}

			return a.Run(ctx)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.Flags().StringVar(&relayURL, "relay", "", "relay websocket URL (overrides relay.url)")
	rootCmd.Flags().StringVar(&name, "name", "", "node name (overrides node.name)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
