package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connected nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := relayClient().ListNodes(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if verbose {
				return printJSON(out, resp)
			}

			if len(resp.Nodes) == 0 {
				fmt.Fprintln(out, "No nodes connected.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCONNECTED\tCAPABILITIES")
			for _, name := range resp.Nodes {
				info := resp.Registry[name]
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					name,
					info.ConnectedAt.Local().Format("2006-01-02 15:04:05"),
					strings.Join(info.Capabilities.Keys(), ","),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the full registry as JSON")
	return cmd
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <capability>",
		Short: "List nodes that declare a capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := relayClient().FindByCapability(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(nodes) == 0 {
				fmt.Fprintf(out, "No nodes with %s.\n", args[0])
				return nil
			}
			for _, n := range nodes {
				fmt.Fprintln(out, n)
			}
			return nil
		},
	}
}
