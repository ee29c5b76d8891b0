package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/workpool"
)

func registerWorkCmds(root *cobra.Command, opts *rootOptions) {
	root.AddCommand(
		newEnqueueCmd(opts),
		newDispatchCmd(opts),
		newCompleteCmd(opts),
		newFailCmd(opts),
		newReleaseCmd(opts),
		newResetWorkerCmd(opts),
		newResetCmd(opts),
	)
}

// withApp opens the app for one command invocation and closes it after fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func newEnqueueCmd(opts *rootOptions) *cobra.Command {
	var (
		score    float64
		priority string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <issue-id>",
		Short: "Add an issue to the work queue",
		Long: `Add an issue to the work queue.

The queue is ordered by score, highest first; issues with equal scores
are dequeued in the order they were queued. Enqueuing an issue that is
already queued replaces its score and counts another attempt.

Priority labels map to scores: critical=100, high=75, medium=50, low=25.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			s := workpool.PriorityMedium.Score()
			switch {
			case cmd.Flags().Changed("score"):
				s = score
			case priority != "":
				p, ok := workpool.ParsePriority(priority)
				if !ok {
					return fmt.Errorf("unknown priority %q (valid: critical, high, medium, low)", priority)
				}
				s = p.Score()
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var entry workpool.QueueEntry
				var depth int
				err := a.transact(ctx, func(_ context.Context, c *workpool.Coordinator) error {
					if c.IsInProgress(issueID) {
						return fmt.Errorf("issue %s is already in progress", issueID)
					}
					entry = c.Enqueue(issueID, s)
					depth = c.QueueLength()
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (score %g, attempt %d, queue length %d)\n",
					entry.IssueID, entry.PriorityScore, entry.Attempts, depth)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&score, "score", 0, "numeric priority score (overrides --priority)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "priority label: critical, high, medium, low")
	return cmd
}

// assignment is one dispatch result.
type assignment struct {
	WorkerID string    `json:"workerId"`
	OrderID  string    `json:"orderId"`
	IssueID  string    `json:"issueId"`
	Priority float64   `json:"priority"`
	At       time.Time `json:"assignedAt"`
}

func newDispatchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		related []string
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Assign queued issues to idle workers",
		Long: `Assign queued issues to idle workers.

For each idle worker, the highest-priority queued issue is dequeued, a
work order is created for it under work_orders/, and the order is
assigned to the worker. Dispatch stops when no worker is idle, the queue
is empty, or --limit assignments have been made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var made []assignment
				err := a.transact(ctx, func(ctx context.Context, c *workpool.Coordinator) error {
					var err error
					made, err = dispatch(ctx, c, limit, related)
					return err
				})
				if err != nil {
					return err
				}

				if asJSON {
					if made == nil {
						made = []assignment{}
					}
					return writeJSON(cmd.OutOrStdout(), made)
				}
				if len(made) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to dispatch")
					return nil
				}
				for _, m := range made {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s, priority %g)\n", m.WorkerID, m.OrderID, m.IssueID, m.Priority)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of assignments (0 = fill every idle worker)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print assignments as JSON")
	cmd.Flags().StringSliceVar(&related, "files", nil, "related files recorded on each work order")
	return cmd
}

// dispatch fills idle workers from the queue.
func dispatch(ctx context.Context, c *workpool.Coordinator, limit int, related []string) ([]assignment, error) {
	scores := make(map[string]float64)
	for _, e := range c.Queue() {
		scores[e.IssueID] = e.PriorityScore
	}

	var made []assignment
	for limit <= 0 || len(made) < limit {
		workerID, ok := c.AvailableSlot()
		if !ok {
			break
		}
		issueID, ok := c.Dequeue()
		if !ok {
			break
		}

		score := scores[issueID]
		order, err := c.CreateWorkOrder(ctx, workpool.Issue{ID: issueID, PriorityScore: &score},
			&workpool.OrderContext{RelatedFiles: related})
		if err != nil {
			return made, err
		}
		if err := c.AssignWork(workerID, order); err != nil {
			return made, err
		}
		made = append(made, assignment{
			WorkerID: workerID,
			OrderID:  order.OrderID,
			IssueID:  issueID,
			Priority: order.Priority,
			At:       time.Now(),
		})
	}
	return made, nil
}

func newCompleteCmd(opts *rootOptions) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "complete <worker-id> <order-id>",
		Short: "Record a successful work order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workerID, orderID := args[0], args[1]
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				err := a.transact(ctx, func(_ context.Context, c *workpool.Coordinator) error {
					return c.CompleteWork(workerID, workpool.WorkOrderResult{
						OrderID:       orderID,
						Success:       true,
						CompletedAt:   time.Now(),
						FilesModified: files,
					})
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s completed by %s\n", orderID, workerID)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&files, "files", nil, "files modified by the work order")
	return cmd
}

func newFailCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fail <worker-id> <order-id> <message>",
		Short: "Record a failed work order",
		Long: `Record a failed work order. The worker moves to the error state and
takes no new work until it is reset with 'foreman reset-worker'.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			workerID, orderID, msg := args[0], args[1], args[2]
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				err := a.transact(ctx, func(_ context.Context, c *workpool.Coordinator) error {
					return c.FailWork(workerID, orderID, errors.New(msg))
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s failed on %s: %s\n", orderID, workerID, msg)
				return nil
			})
		},
	}
}

func newReleaseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release <worker-id>",
		Short: "Return a working worker to idle without a result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return workerTransition(cmd, opts, args[0], "released", (*workpool.Coordinator).ReleaseWorker)
		},
	}
}

func newResetWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-worker <worker-id>",
		Short: "Return an errored worker to idle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return workerTransition(cmd, opts, args[0], "reset", (*workpool.Coordinator).ResetWorker)
		},
	}
}

func workerTransition(cmd *cobra.Command, opts *rootOptions, workerID, verb string, op func(*workpool.Coordinator, string) error) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		err := a.transact(ctx, func(_ context.Context, c *workpool.Coordinator) error {
			return op(c, workerID)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", workerID, verb)
		return nil
	})
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the worker pool and queue",
		Long: `Clear the worker pool and queue. Work order records under work_orders/
are kept, and new order IDs continue from the highest one issued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("reset discards all in-flight assignments; pass --force to confirm")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				err := a.transact(ctx, func(_ context.Context, c *workpool.Coordinator) error {
					c.Reset()
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Coordinator state reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "confirm the reset")
	return cmd
}
