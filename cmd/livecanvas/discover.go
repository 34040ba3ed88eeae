package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/recera/livecanvas/internal/discovery"
)

func newDiscoverCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List hubs announced on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, logger, err := setup(os.Stderr)
			if err != nil {
				return err
			}
			defer logger.Close()

			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.Client.DiscoverTimeout.Std()
			}

			hubs, err := browse(cmd.Context(), timeout)
			if err != nil && len(hubs) == 0 {
				return err
			}
			if err != nil {
				logger.Warn("browse incomplete", "error", err)
			}
			if len(hubs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hubs found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INSTANCE\tHOST\tURL")
			for _, h := range hubs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Instance, h.Host, h.URL())
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "How long to listen for answers")
	return cmd
}

func browse(ctx context.Context, timeout time.Duration) ([]discovery.Hub, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return discovery.Browse(ctx, timeout)
}
