package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func registerMetricsCmd(root *cobra.Command, opts *rootOptions) {
	var format string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print coordinator metrics",
		Long: `Load the saved state and print the coordinator metrics, either in the
Prometheus text exposition format or as a JSON snapshot.

Counters cover this process only; use 'foreman watch --metrics-addr' for
a long-running scrape target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (valid: text, json)", format)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if !a.metrics.Enabled() {
					return fmt.Errorf("metrics are disabled (coordinator.metrics.enabled)")
				}
				if _, err := a.load(ctx); err != nil {
					return err
				}
				if format == "json" {
					return a.metrics.ExportJSON(cmd.OutOrStdout())
				}
				return a.metrics.ExportText(cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json")
	root.AddCommand(cmd)
}
