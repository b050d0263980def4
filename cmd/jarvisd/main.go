package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jarvis-automation/jarvis/internal/server"
)

var version = "dev"

func main() {
	var (
		cfgFile string
		listen  string
	)

	rootCmd := &cobra.Command{
		Use:     "jarvisd",
		Short:   "Jarvis relay: routes controller commands to registered nodes",
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(
				zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			).With().Timestamp().Logger()

			cfg, err := server.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			d := server.NewDaemon(cfg, logger)
			return d.Run()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
