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

	mcpserver "github.com/jarvis-automation/jarvis/internal/mcp"
)

var version = "dev"

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "jarvis-mcp",
		Short: "Jarvis MCP server: lets AI assistants reach nodes through the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the MCP protocol; logs go to stderr.
			logger := zerolog.New(
				zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			).With().Timestamp().Logger()

			cfg, err := mcpserver.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			s, err := mcpserver.New(cfg, logger)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
