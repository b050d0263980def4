package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show jarvisd status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.StatusResponse
			if err := apiGet(cmd.Context(), "/api/v1/status", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:       %s\n", resp.Status)
			fmt.Fprintf(out, "Uptime:       %s\n", resp.Uptime)
			fmt.Fprintf(out, "NATS Running: %v\n", resp.NATSRunning)
			fmt.Fprintf(out, "Started At:   %s\n", resp.StartedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Nodes:        %d\n", resp.NodeCount)
			return nil
		},
	}
}
