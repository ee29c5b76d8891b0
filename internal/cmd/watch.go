package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/progress"
	"github.com/Iron-Ham/foreman/internal/workpool"
)

// stateDebounce coalesces the bursts of events one save produces.
const stateDebounce = 100 * time.Millisecond

func registerWatchCmd(root *cobra.Command, opts *rootOptions) {
	var (
		metricsAddr string
		duration    time.Duration
		saveOnExit  bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor progress until interrupted",
		Long: `Run the progress monitor against the saved state.

The state directory is watched for changes made by other foreman
processes; each change reloads the pool and triggers an immediate poll.
The monitor also polls every monitor.polling_interval_ms. New bottlenecks
are printed and, when monitor.enable_notifications is set, posted to Slack.

With --metrics-addr, Prometheus metrics are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}
				return runWatch(ctx, cmd.OutOrStdout(), a, metricsAddr, saveOnExit)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().BoolVar(&saveOnExit, "save", false, "save a final report when the watch ends")
	root.AddCommand(cmd)
}

func runWatch(ctx context.Context, out io.Writer, a *app, metricsAddr string, saveOnExit bool) error {
	if _, err := a.load(ctx); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	m := a.newMonitor(cwd, true)
	defer m.Close()

	var outMu sync.Mutex
	m.OnEvent(func(e progress.Event) error {
		outMu.Lock()
		defer outMu.Unlock()
		return printMonitorEvent(out, e)
	})

	reload := func() {
		if _, err := a.load(ctx); err != nil {
			a.logger.Warn("failed to reload state", "error", err)
			return
		}
		m.SeedCounts(len(a.coord.CompletedOrders()), len(a.coord.FailedOrders()))
		m.PollOnce(a.coord.Status, a.coord.Queue)
	}

	w, err := newStateWatcher(a.stateDir, reload, a.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	if metricsAddr != "" {
		srv, addr, err := serveMetrics(metricsAddr, a)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := m.Start(a.coord.Status, a.coord.Queue); err != nil {
		return err
	}
	// Print the starting point without waiting a full interval.
	m.PollOnce(a.coord.Status, a.coord.Queue)

	<-ctx.Done()
	_ = m.Stop()

	if saveOnExit {
		metrics, bottlenecks := m.PollOnce(a.coord.Status, a.coord.Queue)
		report := m.GenerateReport(metrics, a.coord.Status(), bottlenecks)
		if err := m.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			return err
		}
	}
	return nil
}

func printMonitorEvent(out io.Writer, e progress.Event) error {
	ts := e.Timestamp.Format("15:04:05")
	switch e.Type {
	case progress.EventProgressUpdated:
		pm := e.Metrics
		line := fmt.Sprintf("%s progress %d%% (%d/%d) working=%d pending=%d failed=%d",
			ts, pm.Percentage, pm.Completed, pm.TotalIssues, pm.InProgress, pm.Pending, pm.Failed)
		if pm.ETA != nil {
			line += " eta=" + pm.ETA.Format("15:04:05")
		}
		_, err := fmt.Fprintln(out, line)
		return err
	case progress.EventBottleneckDetected:
		b := e.Bottleneck
		_, err := fmt.Fprintf(out, "%s bottleneck [%s] %s: %s\n", ts, b.Severity, b.Type, b.Description)
		return err
	}
	return nil
}

// serveMetrics binds addr and serves the collector in the background. It
// returns the bound address, which differs from addr when the port is 0.
func serveMetrics(addr string, a *app) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return srv, ln.Addr().String(), nil
}

// stateWatcher calls onChange after the controller state or a work order
// changes on disk.
type stateWatcher struct {
	watcher  *fsnotify.Watcher
	onChange func()
	logger   *logging.Logger
	stopCh   chan struct{}
	done     chan struct{}
}

func newStateWatcher(dir string, onChange func(), logger *logging.Logger) (*stateWatcher, error) {
	if err := os.MkdirAll(filepath.Join(dir, workpool.WorkOrdersDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, d := range []string{dir, filepath.Join(dir, workpool.WorkOrdersDir)} {
		if err := watcher.Add(d); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch directory: %w", err)
		}
	}

	w := &stateWatcher{
		watcher:  watcher,
		onChange: onChange,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// relevant filters out the log file, lock file and temp files, whose writes
// would otherwise retrigger a reload.
func relevant(name string) bool {
	base := filepath.Base(name)
	switch {
	case base == logging.LogFileName, strings.HasPrefix(base, "."), strings.HasSuffix(base, ".tmp"):
		return false
	case base == workpool.StateKey, strings.HasPrefix(base, "foreman.db"):
		return true
	default:
		return strings.HasSuffix(base, ".json")
	}
}

func (w *stateWatcher) loop() {
	defer close(w.done)

	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	for {
		select {
		case <-w.stopCh:
			debounce.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !relevant(ev.Name) {
				continue
			}
			debounce.Reset(stateDebounce)

		case <-debounce.C:
			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("state watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its loop to exit.
func (w *stateWatcher) Close() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.done
	return err
}
