package progress

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/store"
	"github.com/Iron-Ham/foreman/internal/workpool"
)

// Default configuration values.
const (
	DefaultPollingInterval      = 5 * time.Second
	DefaultStuckWorkerThreshold = 30 * time.Minute
	DefaultMaxRecentActivities  = 50
	DefaultReportPath           = ".foreman/reports"
)

// notifyTimeout bounds a single notifier call made from the poll loop.
const notifyTimeout = 10 * time.Second

// Config controls a Monitor.
type Config struct {
	PollingInterval      time.Duration
	StuckWorkerThreshold time.Duration
	MaxRecentActivities  int
	ReportPath           string
	EnableNotifications  bool
	// TotalIssues, when positive, is the denominator for Percentage.
	// Otherwise the total is derived from the observed counts.
	TotalIssues int
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		PollingInterval:      DefaultPollingInterval,
		StuckWorkerThreshold: DefaultStuckWorkerThreshold,
		MaxRecentActivities:  DefaultMaxRecentActivities,
		ReportPath:           DefaultReportPath,
	}
}

// Monitor polls a worker pool and derives progress metrics and bottlenecks.
// It is safe for concurrent use.
type Monitor struct {
	cfg       Config
	sessionID string
	store     store.Store
	ownsStore bool
	notifier  Notifier
	bus       *event.Bus
	logger    *logging.Logger
	now       func() time.Time

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	activities *ActivityLog
	completed  int
	failed     int
	totalTime  time.Duration
	timed      int
	// working maps worker ID to the issue it held on the previous poll.
	working map[string]string
	// seen holds the bottleneck keys reported on the previous poll.
	seen map[string]bool

	lnMu      sync.RWMutex
	lnSeq     int
	listeners []registeredListener
}

type registeredListener struct {
	id string
	fn Listener
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStore sets the store reports are saved to. Without one, a file store
// rooted at Config.ReportPath is opened on first use.
func WithStore(s store.Store) Option {
	return func(m *Monitor) { m.store = s }
}

// WithNotifier sets where new bottlenecks are sent when notifications are enabled.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithBus mirrors monitor events onto bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithSessionID sets the session ID stamped on reports.
func WithSessionID(id string) Option {
	return func(m *Monitor) {
		if id != "" {
			m.sessionID = id
		}
	}
}

// New creates a stopped Monitor. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = def.PollingInterval
	}
	if cfg.StuckWorkerThreshold <= 0 {
		cfg.StuckWorkerThreshold = def.StuckWorkerThreshold
	}
	if cfg.MaxRecentActivities <= 0 {
		cfg.MaxRecentActivities = def.MaxRecentActivities
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = def.ReportPath
	}

	m := &Monitor{
		cfg:       cfg,
		sessionID: "session-" + uuid.NewString(),
		logger:    logging.NopLogger(),
		now:       time.Now,
		working:   make(map[string]string),
		seen:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("progress")
	m.activities = NewActivityLog(cfg.MaxRecentActivities)
	return m
}

// SessionID returns the session ID stamped on reports.
func (m *Monitor) SessionID() string { return m.sessionID }

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Start begins polling getStatus and getQueue every PollingInterval. The
// first poll happens after one interval.
func (m *Monitor) Start(getStatus StatusFunc, getQueue QueueFunc) error {
	if getStatus == nil || getQueue == nil {
		return errors.NewValidationError("status and queue accessors are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.NewAlreadyRunningError("progress monitor")
	}
	m.running = true
	m.stop = make(chan struct{})
	go m.loop(m.stop, getStatus, getQueue)

	m.logger.Info("progress monitor started",
		"session_id", m.sessionID,
		"interval", m.cfg.PollingInterval.String())
	return nil
}

// Stop cancels the polling loop. A poll already in flight finishes, but no
// further poll begins. Stop may be called from a listener.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return errors.NewNotRunningError("progress monitor")
	}
	m.running = false
	close(m.stop)
	m.stop = nil

	m.logger.Info("progress monitor stopped", "session_id", m.sessionID)
	return nil
}

// IsRunning reports whether the polling loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(stop <-chan struct{}, getStatus StatusFunc, getQueue QueueFunc) {
	ticker := time.NewTicker(m.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Stop may have raced with the tick.
			select {
			case <-stop:
				return
			default:
			}
			m.pollSafely(getStatus, getQueue)
		}
	}
}

// pollSafely keeps a panicking accessor from killing the loop.
func (m *Monitor) pollSafely(getStatus StatusFunc, getQueue QueueFunc) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("progress poll panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	m.PollOnce(getStatus, getQueue)
}

// PollOnce performs one observation: it records started activities for
// workers that picked up a new issue, computes metrics and bottlenecks, and
// notifies listeners. Bottleneck events fire only for bottlenecks absent
// from the previous poll.
func (m *Monitor) PollOnce(getStatus StatusFunc, getQueue QueueFunc) (ProgressMetrics, []Bottleneck) {
	status := getStatus()
	queue := getQueue()
	now := m.now()

	m.mu.Lock()
	current := make(map[string]string)
	for _, w := range status.Workers {
		if w.Status != workpool.WorkerWorking || w.CurrentIssueID == "" {
			continue
		}
		current[w.ID] = w.CurrentIssueID
		if m.working[w.ID] == w.CurrentIssueID {
			continue
		}
		at := now
		if w.StartedAt != nil {
			at = *w.StartedAt
		}
		m.activities.Add(Activity{
			Type:      ActivityStarted,
			IssueID:   w.CurrentIssueID,
			WorkerID:  w.ID,
			Timestamp: at,
		})
	}
	m.working = current

	metrics := m.metricsLocked(status, queue, now)
	bottlenecks := detectBottlenecks(status, queue, now, m.cfg.StuckWorkerThreshold)

	seen := make(map[string]bool, len(bottlenecks))
	var fresh []Bottleneck
	for _, b := range bottlenecks {
		k := b.key()
		if !m.seen[k] && !seen[k] {
			fresh = append(fresh, b)
		}
		seen[k] = true
	}
	m.seen = seen
	m.mu.Unlock()

	m.emit(Event{Type: EventProgressUpdated, Metrics: &metrics, Timestamp: now})
	if m.bus != nil {
		m.bus.Publish(event.NewProgressUpdatedEvent(
			metrics.TotalIssues, metrics.Completed, metrics.InProgress, metrics.Pending, metrics.Percentage))
	}

	for i := range fresh {
		b := fresh[i]
		m.logger.Warn("bottleneck detected",
			"type", string(b.Type),
			"severity", string(b.Severity),
			"worker_id", b.WorkerID,
			"description", b.Description)
		m.emit(Event{Type: EventBottleneckDetected, Bottleneck: &b, Timestamp: now})
		if m.bus != nil {
			m.bus.Publish(event.NewBottleneckDetectedEvent(
				string(b.Type), b.Description, string(b.Severity), b.WorkerID))
		}
	}

	if len(fresh) > 0 && m.cfg.EnableNotifications && m.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := m.notifier.Notify(ctx, m.sessionID, fresh); err != nil {
			m.logger.Warn("bottleneck notification failed", "error", err)
		}
		cancel()
	}

	return metrics, bottlenecks
}

// OnEvent registers a listener and returns its ID. A listener that panics
// or returns an error is logged; remaining listeners still run.
func (m *Monitor) OnEvent(fn Listener) string {
	m.lnMu.Lock()
	defer m.lnMu.Unlock()
	m.lnSeq++
	id := fmt.Sprintf("listener-%d", m.lnSeq)
	m.listeners = append(m.listeners, registeredListener{id: id, fn: fn})
	return id
}

// RemoveListener unregisters a listener. It reports whether id was found.
func (m *Monitor) RemoveListener(id string) bool {
	m.lnMu.Lock()
	defer m.lnMu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Monitor) emit(e Event) {
	m.lnMu.RLock()
	listeners := append([]registeredListener(nil), m.listeners...)
	m.lnMu.RUnlock()

	for _, l := range listeners {
		m.callListener(l, e)
	}
}

func (m *Monitor) callListener(l registeredListener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("progress listener panicked",
				"listener", l.id,
				"event_type", string(e.Type),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	if err := l.fn(e); err != nil {
		m.logger.Warn("progress listener failed",
			"listener", l.id,
			"event_type", string(e.Type),
			"error", err)
	}
}

// RecordStart appends a started activity.
func (m *Monitor) RecordStart(issueID, workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities.Add(Activity{Type: ActivityStarted, IssueID: issueID, WorkerID: workerID, Timestamp: m.now()})
	if workerID != "" {
		m.working[workerID] = issueID
	}
}

// RecordCompletion counts a successful completion. duration feeds the
// average completion time.
func (m *Monitor) RecordCompletion(issueID, workerID string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.totalTime += duration
	m.timed++
	m.activities.Add(Activity{
		Type:      ActivityCompleted,
		IssueID:   issueID,
		WorkerID:  workerID,
		Details:   "completed in " + duration.Round(time.Millisecond).String(),
		Timestamp: m.now(),
	})
}

// RecordFailure counts a failed issue.
func (m *Monitor) RecordFailure(issueID, workerID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.activities.Add(Activity{Type: ActivityFailed, IssueID: issueID, WorkerID: workerID, Details: reason, Timestamp: m.now()})
}

// RecordBlocked appends a blocked activity. It does not change counters.
func (m *Monitor) RecordBlocked(issueID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities.Add(Activity{Type: ActivityBlocked, IssueID: issueID, Details: reason, Timestamp: m.now()})
}

// SeedCounts sets the completed and failed counters, for monitors started
// against a pool that already has history. No activities are recorded.
func (m *Monitor) SeedCounts(completed, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = completed
	m.failed = failed
}

// RecentActivity returns the activity log, oldest first.
func (m *Monitor) RecentActivity() []Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activities.Entries()
}

// Attach feeds task completion events from bus into the monitor and
// returns the subscription ID.
func (m *Monitor) Attach(bus *event.Bus) string {
	return bus.Subscribe(event.TypeTaskCompleted, func(e event.Event) {
		tc, ok := e.(event.TaskCompletedEvent)
		if !ok {
			return
		}
		if tc.Success {
			m.RecordCompletion(tc.IssueID, tc.WorkerID, tc.Duration)
			return
		}
		m.RecordFailure(tc.IssueID, tc.WorkerID, tc.Error)
	})
}
