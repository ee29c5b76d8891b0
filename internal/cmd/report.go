package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/foreman/internal/progress"
)

// Report formats.
const (
	formatMarkdown = "markdown"
	formatJSON     = "json"
	formatYAML     = "yaml"
)

func registerReportCmd(root *cobra.Command, opts *rootOptions) {
	var (
		format string
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a progress report",
		Long: `Observe the pool once and print a progress report with metrics,
workers, bottlenecks and recent activity.

With --save, the report is also written to monitor.report_path as
progress_report.json and progress_report.md.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case formatMarkdown, formatJSON, formatYAML:
			default:
				return fmt.Errorf("unknown format %q (valid: markdown, json, yaml)", format)
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.load(ctx); err != nil {
					return err
				}
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}

				m := a.newMonitor(cwd, false)
				defer m.Close()

				metrics, bottlenecks := m.PollOnce(a.coord.Status, a.coord.Queue)
				report := m.GenerateReport(metrics, a.coord.Status(), bottlenecks)

				if err := writeReport(cmd, report, format); err != nil {
					return err
				}
				if save {
					if err := m.SaveReport(ctx, report); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Report saved to %s\n",
						filepath.Join(m.Config().ReportPath, progress.ReportJSONKey))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatMarkdown, "output format: markdown, json, yaml")
	cmd.Flags().BoolVar(&save, "save", false, "also save the report to the report directory")
	root.AddCommand(cmd)
}

func writeReport(cmd *cobra.Command, r progress.Report, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		return writeJSON(out, r)
	case formatYAML:
		data, err := toYAML(r)
		if err != nil {
			return fmt.Errorf("render yaml: %w", err)
		}
		_, err = out.Write(data)
		return err
	default:
		_, err := fmt.Fprint(out, progress.GenerateMarkdownReport(r))
		return err
	}
}
