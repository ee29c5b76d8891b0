package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/foreman/internal/config"
	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/lock"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/metrics"
	"github.com/Iron-Ham/foreman/internal/progress"
	"github.com/Iron-Ham/foreman/internal/store"
	"github.com/Iron-Ham/foreman/internal/workpool"
)

// app is the set of collaborators one command invocation works with.
type app struct {
	cfg       *config.Config
	projectID string
	stateDir  string
	logger    *logging.Logger
	bus       *event.Bus
	store     store.Store
	locker    *lock.Coordinator
	metrics   *metrics.Collector
	coord     *workpool.Coordinator
}

// openApp wires the store, lock backend, metrics and coordinator from the
// loaded configuration. The caller must Close the result.
func (o *rootOptions) openApp(ctx context.Context) (*app, error) {
	cfg := o.cfg
	projectID, err := o.projectID()
	if err != nil {
		return nil, fmt.Errorf("failed to determine project ID: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	a := &app{
		cfg:       cfg,
		projectID: projectID,
		stateDir:  cfg.Coordinator.ResolveWorkOrdersPath(cwd),
		logger:    logging.NopLogger(),
	}

	if cfg.Logging.Enabled {
		l, err := logging.NewLogger(a.stateDir, logging.ParseLevel(cfg.Logging.Level))
		if err != nil {
			return nil, err
		}
		a.logger = l.WithProject(projectID)
	}
	a.bus = event.NewBus(event.WithLogger(a.logger))

	a.store, err = store.New(store.Config{
		Backend:    cfg.Storage.Backend,
		Root:       a.stateDir,
		SQLitePath: sqlitePath(cfg, a.stateDir),
	})
	if err != nil {
		_ = a.logger.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	a.metrics = metrics.NewCollector(metrics.Config{
		Enabled:              cfg.Coordinator.Metrics.Enabled,
		MaxCompletionRecords: cfg.Coordinator.Metrics.MaxCompletionRecords,
	})
	a.metrics.Attach(a.bus)

	dl := cfg.Coordinator.DistributedLock
	if dl.Enabled {
		backend, err := lock.NewBackend(ctx, lock.BackendConfig{
			Backend:    dl.Backend,
			RedisAddr:  dl.RedisAddr,
			NATSURL:    dl.NATSURL,
			NATSBucket: dl.NATSBucket,
			Dir:        a.stateDir,
		})
		if err != nil {
			_ = a.Close()
			return nil, errors.NewLockError(dl.LockName, "connect", err)
		}
		a.locker = lock.New(backend,
			lock.WithHolderPrefix(dl.HolderIDPrefix),
			lock.WithBus(a.bus),
			lock.WithLogger(a.logger))
	}

	a.coord = workpool.New(a.store,
		workpool.WithMaxWorkers(cfg.Coordinator.MaxWorkers),
		workpool.WithLocker(a.locker),
		workpool.WithLockOptions(lockOptions(dl)),
		workpool.WithLockName(dl.LockName),
		workpool.WithMetrics(a.metrics),
		workpool.WithBus(a.bus),
		workpool.WithLogger(a.logger))

	return a, nil
}

func sqlitePath(cfg *config.Config, stateDir string) string {
	if cfg.Storage.Backend != config.StorageBackendSQLite {
		return ""
	}
	return cfg.Storage.ResolveSQLitePath(stateDir)
}

func lockOptions(dl config.DistributedLockConfig) lock.Options {
	return lock.Options{
		TTL:         dl.LockTTL(),
		Timeout:     dl.LockTimeout(),
		RetryDelay:  dl.LockRetryDelay(),
		MaxAttempts: dl.LockRetryAttempts,
	}
}

// load adopts the persisted state for the project. It reports whether any
// state was found.
func (a *app) load(ctx context.Context) (bool, error) {
	state, err := a.coord.LoadStateWithLock(ctx, a.projectID)
	if err != nil {
		return false, err
	}
	return state != nil, nil
}

// transact runs fn against freshly loaded state and saves the result.
func (a *app) transact(ctx context.Context, fn func(context.Context, *workpool.Coordinator) error) error {
	return a.coord.Transact(ctx, a.projectID, fn)
}

// newMonitor builds a progress monitor seeded with the coordinator's
// terminal order counts. Bottleneck notifications are sent only when notify
// is set and the configuration enables them.
func (a *app) newMonitor(baseDir string, notify bool, opts ...progress.Option) *progress.Monitor {
	mc := a.cfg.Monitor
	cfg := progress.Config{
		PollingInterval:      mc.PollingInterval(),
		StuckWorkerThreshold: mc.StuckWorkerThreshold(),
		MaxRecentActivities:  mc.MaxRecentActivities,
		ReportPath:           mc.ResolveReportPath(baseDir),
		EnableNotifications:  notify && mc.EnableNotifications,
		TotalIssues:          mc.TotalIssues,
	}

	base := []progress.Option{
		progress.WithLogger(a.logger),
		progress.WithBus(a.bus),
	}
	if mc.SlackWebhookURL != "" {
		base = append(base, progress.WithNotifier(
			progress.NewSlackNotifier(mc.SlackWebhookURL, progress.WithSlackChannel(mc.SlackChannel))))
	}

	m := progress.New(cfg, append(base, opts...)...)
	m.SeedCounts(len(a.coord.CompletedOrders()), len(a.coord.FailedOrders()))
	return m
}

// Close releases the lock backend, the store and the log file.
func (a *app) Close() error {
	var errs []error
	if a.locker != nil {
		errs = append(errs, a.locker.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
