package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jarvis-automation/jarvis/cmd/jarvisctl/cmd"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd.Version = version
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
