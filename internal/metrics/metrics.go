// Package metrics accumulates coordinator and lock statistics and exports
// them as a JSON snapshot or in the Prometheus text format.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/Iron-Ham/foreman/internal/event"
)

// DefaultMaxCompletionRecords bounds the completion history when the
// configured value is not positive.
const DefaultMaxCompletionRecords = 1000

// EventType identifies a coordinator metrics event.
type EventType string

// Coordinator metrics event types.
const (
	EventWorkOrderCreated EventType = "work_order_created"
	EventWorkAssigned     EventType = "work_assigned"
	EventTaskCompleted    EventType = "task_completed"
	EventQueueDepth       EventType = "queue_depth"
)

// Event is emitted by the coordinator for every state change worth counting.
type Event struct {
	Type      EventType     `json:"type"`
	WorkerID  string        `json:"workerId,omitempty"`
	OrderID   string        `json:"orderId,omitempty"`
	IssueID   string        `json:"issueId,omitempty"`
	Success   bool          `json:"success,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	Depth     int           `json:"depth,omitempty"`
	Idle      int           `json:"idle,omitempty"`
	Working   int           `json:"working,omitempty"`
	Errored   int           `json:"errored,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Config controls a Collector.
type Config struct {
	Enabled              bool
	MaxCompletionRecords int
}

// CompletionRecord is one finished work order.
type CompletionRecord struct {
	OrderID     string        `json:"orderId"`
	WorkerID    string        `json:"workerId"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"durationNs"`
	CompletedAt time.Time     `json:"completedAt"`
}

// WorkerCounts is the last observed worker status breakdown.
type WorkerCounts struct {
	Idle    int `json:"idle"`
	Working int `json:"working"`
	Error   int `json:"error"`
}

// Snapshot is a point-in-time summary of everything the collector has seen.
type Snapshot struct {
	WorkOrdersCreated int          `json:"workOrdersCreated"`
	Assignments       int          `json:"assignments"`
	TasksCompleted    int          `json:"tasksCompleted"`
	TasksFailed       int          `json:"tasksFailed"`
	SuccessRate       float64      `json:"successRate"`
	AvgDurationMs     int64        `json:"avgDurationMs"`
	MinDurationMs     int64        `json:"minDurationMs"`
	MaxDurationMs     int64        `json:"maxDurationMs"`
	QueueDepth        int          `json:"queueDepth"`
	Workers           WorkerCounts `json:"workers"`
	LockAcquisitions  int          `json:"lockAcquisitions"`
	LockTimeouts      int          `json:"lockTimeouts"`
	AvgLockWaitMs     int64        `json:"avgLockWaitMs"`
	RecordedAt        time.Time    `json:"recordedAt"`
}

// instruments holds the Prometheus collectors. They are rebuilt on Reset
// because plain counters cannot be zeroed.
type instruments struct {
	registry        *prometheus.Registry
	ordersCreated   prometheus.Counter
	tasksCompleted  *prometheus.CounterVec
	taskDuration    prometheus.Histogram
	queueDepth      prometheus.Gauge
	workers         *prometheus.GaugeVec
	lockAcquisition *prometheus.CounterVec
	lockWait        prometheus.Histogram
}

func newInstruments() *instruments {
	in := &instruments{registry: prometheus.NewRegistry()}

	in.ordersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foreman_work_orders_created_total",
		Help: "Total number of work orders created",
	})
	in.tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_tasks_completed_total",
		Help: "Total number of work orders finished, by result",
	}, []string{"result"})
	in.taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "foreman_task_duration_seconds",
		Help:    "Time from assignment to completion or failure",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	})
	in.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "foreman_queue_depth",
		Help: "Number of issues waiting in the work queue",
	})
	in.workers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foreman_workers",
		Help: "Number of worker slots by status",
	}, []string{"status"})
	in.lockAcquisition = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_lock_acquisitions_total",
		Help: "Lock acquisition attempts, by result",
	}, []string{"result"})
	in.lockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "foreman_lock_wait_seconds",
		Help:    "Time spent waiting for the coordinator lock",
		Buckets: prometheus.DefBuckets,
	})

	in.registry.MustRegister(
		in.ordersCreated,
		in.tasksCompleted,
		in.taskDuration,
		in.queueDepth,
		in.workers,
		in.lockAcquisition,
		in.lockWait,
	)
	return in
}

// Collector aggregates metrics events. A disabled Collector accepts every
// call and records nothing. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	enabled bool
	limit   int
	in      *instruments

	created     int
	assignments int
	completed   int
	failed      int
	records     []CompletionRecord
	queueDepth  int
	workers     WorkerCounts
	lockOK      int
	lockTimeout int
	lockWait    time.Duration
}

// NewCollector creates a Collector.
func NewCollector(cfg Config) *Collector {
	limit := cfg.MaxCompletionRecords
	if limit <= 0 {
		limit = DefaultMaxCompletionRecords
	}
	return &Collector{
		enabled: cfg.Enabled,
		limit:   limit,
		in:      newInstruments(),
	}
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled
}

// Record consumes one coordinator metrics event.
func (c *Collector) Record(e Event) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case EventWorkOrderCreated:
		c.created++
		c.in.ordersCreated.Inc()
	case EventWorkAssigned:
		c.assignments++
	case EventTaskCompleted:
		result := "success"
		if e.Success {
			c.completed++
		} else {
			c.failed++
			result = "failure"
		}
		c.in.tasksCompleted.WithLabelValues(result).Inc()
		if e.Duration > 0 {
			c.in.taskDuration.Observe(e.Duration.Seconds())
		}
		completedAt := e.Timestamp
		if completedAt.IsZero() {
			completedAt = time.Now()
		}
		c.records = append(c.records, CompletionRecord{
			OrderID:     e.OrderID,
			WorkerID:    e.WorkerID,
			Success:     e.Success,
			Duration:    e.Duration,
			CompletedAt: completedAt,
		})
		if over := len(c.records) - c.limit; over > 0 {
			c.records = append(c.records[:0:0], c.records[over:]...)
		}
	case EventQueueDepth:
		c.queueDepth = e.Depth
		c.workers = WorkerCounts{Idle: e.Idle, Working: e.Working, Error: e.Errored}
		c.in.queueDepth.Set(float64(e.Depth))
		c.in.workers.WithLabelValues("idle").Set(float64(e.Idle))
		c.in.workers.WithLabelValues("working").Set(float64(e.Working))
		c.in.workers.WithLabelValues("error").Set(float64(e.Errored))
	}
}

// Attach subscribes the collector to lock events on bus. Coordinator events
// reach the collector through Record, so they are not subscribed here.
// It returns the subscription IDs.
func (c *Collector) Attach(bus *event.Bus) []string {
	return []string{
		bus.Subscribe(event.TypeLockAcquired, func(e event.Event) {
			if acquired, ok := e.(event.LockAcquiredEvent); ok {
				c.recordLock(true, acquired.Wait)
			}
		}),
		bus.Subscribe(event.TypeLockTimeout, func(e event.Event) {
			if timeout, ok := e.(event.LockTimeoutEvent); ok {
				c.recordLock(false, timeout.Wait)
			}
		}),
	}
}

func (c *Collector) recordLock(acquired bool, wait time.Duration) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if acquired {
		c.lockOK++
		c.lockWait += wait
		c.in.lockAcquisition.WithLabelValues("acquired").Inc()
	} else {
		c.lockTimeout++
		c.in.lockAcquisition.WithLabelValues("timeout").Inc()
	}
	c.in.lockWait.Observe(wait.Seconds())
}

// Completions returns a copy of the retained completion records, oldest first.
func (c *Collector) Completions() []CompletionRecord {
	if !c.Enabled() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CompletionRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Snapshot summarizes the collector state.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{RecordedAt: time.Now()}
	if !c.Enabled() {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s.WorkOrdersCreated = c.created
	s.Assignments = c.assignments
	s.TasksCompleted = c.completed
	s.TasksFailed = c.failed
	if total := c.completed + c.failed; total > 0 {
		s.SuccessRate = float64(c.completed) / float64(total)
	}
	s.QueueDepth = c.queueDepth
	s.Workers = c.workers
	s.LockAcquisitions = c.lockOK
	s.LockTimeouts = c.lockTimeout
	if c.lockOK > 0 {
		s.AvgLockWaitMs = (c.lockWait / time.Duration(c.lockOK)).Milliseconds()
	}

	var sum, lo, hi time.Duration
	var n int
	for _, r := range c.records {
		if r.Duration <= 0 {
			continue
		}
		if n == 0 || r.Duration < lo {
			lo = r.Duration
		}
		if r.Duration > hi {
			hi = r.Duration
		}
		sum += r.Duration
		n++
	}
	if n > 0 {
		s.AvgDurationMs = (sum / time.Duration(n)).Milliseconds()
		s.MinDurationMs = lo.Milliseconds()
		s.MaxDurationMs = hi.Milliseconds()
	}
	return s
}

// ExportJSON writes the snapshot as indented JSON.
func (c *Collector) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.Snapshot())
}

// ExportText writes all metric families in the Prometheus text format.
// A disabled collector writes nothing.
func (c *Collector) ExportText(w io.Writer) error {
	if !c.Enabled() {
		return nil
	}
	families, err := c.gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the metrics for a Prometheus scrape.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.GathererFunc(c.gather), promhttp.HandlerOpts{})
}

func (c *Collector) gather() ([]*dto.MetricFamily, error) {
	c.mu.Lock()
	in := c.in
	c.mu.Unlock()
	return in.registry.Gather()
}

// Reset discards all recorded data.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.in = newInstruments()
	c.created, c.assignments, c.completed, c.failed = 0, 0, 0, 0
	c.records = nil
	c.queueDepth = 0
	c.workers = WorkerCounts{}
	c.lockOK, c.lockTimeout, c.lockWait = 0, 0, 0
}
