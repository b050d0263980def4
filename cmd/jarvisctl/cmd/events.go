package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

func newEventsCmd() *cobra.Command {
	var (
		natsURL string
		token   string
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow node and command lifecycle events",
		Long: `Subscribes to jarvis.events.> on the relay's NATS bus and prints each
event until interrupted. jarvisd's embedded server listens on
nats://127.0.0.1:4222 unless configured otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []nats.Option{nats.Name("jarvisctl")}
			if token != "" {
				opts = append(opts, nats.Token(token))
			}
			nc, err := nats.Connect(natsURL, opts...)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", natsURL, err)
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			sub, err := nc.Subscribe(protocol.SubjectEventsAll, func(msg *nats.Msg) {
				if raw {
					fmt.Fprintf(out, "%s\n", msg.Data)
					return
				}
				var ev protocol.Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					fmt.Fprintf(out, "%s: %s\n", msg.Subject, msg.Data)
					return
				}
				payload, _ := json.Marshal(ev.Payload)
				fmt.Fprintf(out, "%s  %-18s %s\n",
					time.Unix(ev.Timestamp, 0).Format("15:04:05"), ev.Type, payload)
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer sub.Unsubscribe()

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", envOr("JARVIS_NATS_URL", nats.DefaultURL), "NATS server URL")
	cmd.Flags().StringVar(&token, "nats-token", os.Getenv("JARVIS_NATS_TOKEN"), "NATS auth token")
	cmd.Flags().BoolVar(&raw, "raw", false, "print events as raw JSON")
	return cmd
}
