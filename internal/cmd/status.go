package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/foreman/internal/workpool"
)

// statusView is the JSON form of the status command.
type statusView struct {
	ProjectID       string                `json:"projectId"`
	Pool            workpool.PoolStatus   `json:"pool"`
	Queue           []workpool.QueueEntry `json:"queue"`
	CompletedOrders []string              `json:"completedOrders"`
	FailedOrders    []string              `json:"failedOrders"`
}

func registerStatusCmd(root *cobra.Command, opts *rootOptions) {
	var (
		pattern string
		asJSON  bool
		noColor bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the worker pool and queue",
		Long: `Show the worker pool and queue for the current project.

--workers filters the worker list with a glob pattern, for example
'worker-1*'. Counts always reflect the whole pool.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var match glob.Glob
			if pattern != "" {
				g, err := glob.Compile(pattern)
				if err != nil {
					return fmt.Errorf("invalid --workers pattern %q: %w", pattern, err)
				}
				match = g
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				found, err := a.load(ctx)
				if err != nil {
					return err
				}

				view := statusView{
					ProjectID:       a.projectID,
					Pool:            a.coord.Status(),
					Queue:           a.coord.Queue(),
					CompletedOrders: a.coord.CompletedOrders(),
					FailedOrders:    a.coord.FailedOrders(),
				}
				view.Pool.Workers = filterWorkers(view.Pool.Workers, match)

				if asJSON {
					return writeJSON(cmd.OutOrStdout(), view)
				}
				printStatus(newPrinter(cmd, noColor), view, found, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&pattern, "workers", "w", "", "glob pattern selecting workers to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable styled output")
	root.AddCommand(cmd)
}

func filterWorkers(workers []workpool.Worker, match glob.Glob) []workpool.Worker {
	if match == nil {
		return workers
	}
	out := make([]workpool.Worker, 0, len(workers))
	for _, w := range workers {
		if match.Match(w.ID) {
			out = append(out, w)
		}
	}
	return out
}

func printStatus(p printer, v statusView, found bool, now time.Time) {
	p.printf("%s\n", p.render(titleStyle, "Project "+v.ProjectID))
	if !found {
		p.printf("%s\n", p.render(mutedStyle, "No saved state; showing a fresh pool"))
	}
	pool := v.Pool
	p.printf("Workers: %d total, %d idle, %d working, %d error\n",
		pool.TotalWorkers, pool.IdleWorkers, pool.WorkingWorkers, pool.ErrorWorkers)
	p.printf("Orders:  %d completed, %d failed, %d active\n\n",
		len(v.CompletedOrders), len(v.FailedOrders), len(pool.ActiveOrders))

	if len(pool.Workers) == 0 {
		p.printf("%s\n", p.render(mutedStyle, "No workers match"))
	} else {
		p.workerTable(pool.Workers, now)
	}

	p.printf("\n%s\n", p.render(titleStyle, fmt.Sprintf("Queue (%d)", len(v.Queue))))
	if len(v.Queue) == 0 {
		p.printf("%s\n", p.render(mutedStyle, "Empty"))
		return
	}
	for i, e := range v.Queue {
		line := fmt.Sprintf("%3d. %-20s score %-6g queued %s ago", i+1, e.IssueID, e.PriorityScore,
			now.Sub(e.QueuedAt).Round(time.Second))
		if e.Attempts > 1 {
			line += p.render(warnStyle, fmt.Sprintf("  (attempt %d)", e.Attempts))
		}
		p.printf("%s\n", line)
	}
}
