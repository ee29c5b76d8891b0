package workpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/lock"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/metrics"
	"github.com/Iron-Ham/foreman/internal/store"
)

// DefaultMaxWorkers is the pool size when none is configured.
const DefaultMaxWorkers = 3

// DefaultLockName is the lock name suffix used when none is configured.
const DefaultLockName = "default"

// CompletionFunc is invoked after a work order completes successfully.
type CompletionFunc func(workerID string, result WorkOrderResult)

// FailureFunc is invoked after a work order fails.
type FailureFunc func(workerID, orderID string, err error)

// MetricsFunc receives every metrics event the coordinator emits.
type MetricsFunc func(metrics.Event)

// Coordinator owns the worker pool, the work queue, and the work order
// registry. In-memory operations are atomic with respect to each other;
// callbacks and events fire after the internal mutex is released.
type Coordinator struct {
	mu        sync.Mutex
	workers   []*Worker
	byID      map[string]*Worker
	orders    map[string]*WorkOrder
	queue     *priorityQueue
	completed []string
	failed    []string
	terminal  map[string]bool
	lastOrder int // never decreases

	maxWorkers int
	store      store.Store
	locker     *lock.Coordinator
	lockOpts   lock.Options
	lockName   string
	metrics    *metrics.Collector
	bus        *event.Bus
	logger     *logging.Logger
	now        func() time.Time

	cbMu       sync.RWMutex
	cbSeq      atomic.Uint64
	onComplete []registered[CompletionFunc]
	onFailure  []registered[FailureFunc]
	onMetrics  []registered[MetricsFunc]
}

type registered[F any] struct {
	id string
	fn F
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxWorkers sets the pool size. Values below 1 are raised to 1.
func WithMaxWorkers(n int) Option {
	return func(c *Coordinator) { c.maxWorkers = n }
}

// WithLocker enables the lock-protected operation variants.
func WithLocker(l *lock.Coordinator) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithLockOptions sets the acquisition options used by the WithLock variants.
func WithLockOptions(opts lock.Options) Option {
	return func(c *Coordinator) { c.lockOpts = opts }
}

// WithLockName scopes the coordinator lock. Coordinators sharing a project
// must use the same name.
func WithLockName(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.lockName = name
		}
	}
}

// WithMetrics feeds a collector with the coordinator's metrics events.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithBus publishes coordinator events to bus.
func WithBus(bus *event.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator with workers worker-1..worker-N, all idle.
// A nil store keeps everything in memory; SaveState then fails.
func New(st store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		orders:     make(map[string]*WorkOrder),
		queue:      newPriorityQueue(),
		terminal:   make(map[string]bool),
		store:      st,
		lockOpts:   lock.DefaultOptions(),
		lockName:   DefaultLockName,
		logger:     logging.NopLogger(),
		now:        time.Now,
		maxWorkers: DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxWorkers < 1 {
		c.maxWorkers = 1
	}
	c.logger = c.logger.WithComponent("workpool")
	c.initWorkers(c.maxWorkers)
	return c
}

func (c *Coordinator) initWorkers(n int) {
	c.workers = make([]*Worker, n)
	c.byID = make(map[string]*Worker, n)
	for i := range c.workers {
		w := &Worker{ID: fmt.Sprintf("worker-%d", i+1), Status: WorkerIdle}
		c.workers[i] = w
		c.byID[w.ID] = w
	}
}

// LockName returns the full name of the coordinator lock.
func (c *Coordinator) LockName() string {
	return "foreman:coordinator:" + c.lockName
}

// LockingEnabled reports whether the WithLock variants acquire a lock.
func (c *Coordinator) LockingEnabled() bool {
	return c.locker != nil
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// Status returns a snapshot of all workers and their counts.
func (c *Coordinator) Status() PoolStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() PoolStatus {
	s := PoolStatus{
		Workers:      make([]Worker, 0, len(c.workers)),
		TotalWorkers: len(c.workers),
		ActiveOrders: []string{},
	}
	for _, w := range c.workers {
		s.Workers = append(s.Workers, w.Clone())
		switch w.Status {
		case WorkerIdle:
			s.IdleWorkers++
		case WorkerWorking:
			s.WorkingWorkers++
			if w.CurrentOrderID != "" {
				s.ActiveOrders = append(s.ActiveOrders, w.CurrentOrderID)
			}
		case WorkerError:
			s.ErrorWorkers++
		}
	}
	return s
}

// AvailableSlot returns the first idle worker in pool order.
func (c *Coordinator) AvailableSlot() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.workers {
		if w.Status == WorkerIdle {
			return w.ID, true
		}
	}
	return "", false
}

// IsInProgress reports whether some worker is currently working on issueID.
func (c *Coordinator) IsInProgress(issueID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.workers {
		if w.Status == WorkerWorking && w.CurrentIssueID == issueID {
			return true
		}
	}
	return false
}

// WorkOrder returns a copy of a registered work order.
func (c *Coordinator) WorkOrder(orderID string) (*WorkOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok {
		return nil, errors.NewWorkOrderNotFoundError(orderID)
	}
	cp := *o
	cp.Context.RelatedFiles = append([]string(nil), o.Context.RelatedFiles...)
	return &cp, nil
}

// CompletedOrders returns completed order IDs in completion order.
func (c *Coordinator) CompletedOrders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.completed...)
}

// FailedOrders returns failed order IDs in failure order.
func (c *Coordinator) FailedOrders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.failed...)
}

// Queue returns the queued entries in dequeue order.
func (c *Coordinator) Queue() []QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.entries()
}

// QueueLength returns the number of queued issues.
func (c *Coordinator) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// IsQueued reports whether issueID is waiting in the queue.
func (c *Coordinator) IsQueued(issueID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.contains(issueID)
}

// -----------------------------------------------------------------------------
// Work orders and assignment
// -----------------------------------------------------------------------------

// CreateWorkOrder allocates the next order ID, registers the order and
// writes it to work_orders/{id}.json. If the write fails the order stays
// registered in memory and is returned together with a
// *errors.ControllerStatePersistenceError.
func (c *Coordinator) CreateWorkOrder(ctx context.Context, issue Issue, oc *OrderContext) (*WorkOrder, error) {
	order := &WorkOrder{
		IssueID:   issue.ID,
		IssueURL:  issue.URL,
		Priority:  issue.Score(),
		Context:   OrderContext{RelatedFiles: []string{}},
		CreatedAt: c.now(),
	}
	if oc != nil {
		order.Context = *oc
		order.Context.RelatedFiles = append([]string{}, oc.RelatedFiles...)
	}

	c.mu.Lock()
	c.lastOrder++
	order.OrderID = formatOrderID(c.lastOrder)
	c.orders[order.OrderID] = order
	c.mu.Unlock()

	log := c.logger.WithOrder(order.OrderID)
	log.Debug("work order created", "issue_id", issue.ID, "priority", order.Priority)

	var persistErr error
	if c.store != nil {
		if err := store.PutJSON(ctx, c.store, orderKey(order.OrderID), order); err != nil {
			log.Error("failed to persist work order", "error", err)
			persistErr = errors.NewPersistenceError("", "write_order", err)
		}
	}

	c.publish(event.NewWorkOrderCreatedEvent(order.OrderID, order.IssueID, order.Priority))
	c.emit(metrics.Event{Type: metrics.EventWorkOrderCreated, OrderID: order.OrderID, IssueID: order.IssueID})

	cp := *order
	return &cp, persistErr
}

// AssignWork moves an idle worker to working on order. An order that has
// already completed or failed is rejected.
func (c *Coordinator) AssignWork(workerID string, order *WorkOrder) error {
	if order == nil {
		return errors.NewValidationError("work order is required").WithField("order")
	}

	c.mu.Lock()
	w, ok := c.byID[workerID]
	if !ok {
		c.mu.Unlock()
		return errors.NewWorkerNotFoundError(workerID)
	}
	if w.Status != WorkerIdle {
		status := w.Status
		c.mu.Unlock()
		c.logger.WithWorker(workerID).Warn("assignment rejected", "status", status, "order_id", order.OrderID)
		return errors.NewWorkerNotAvailableError(workerID, string(status))
	}
	if c.terminal[order.OrderID] {
		c.mu.Unlock()
		c.logger.WithWorker(workerID).Warn("assignment rejected", "reason", "order already finished", "order_id", order.OrderID)
		return errors.NewValidationError("work order already finished").WithField("order").WithValue(order.OrderID)
	}

	started := c.now()
	w.Status = WorkerWorking
	w.CurrentIssueID = order.IssueID
	w.CurrentOrderID = order.OrderID
	w.StartedAt = &started
	if _, known := c.orders[order.OrderID]; !known && order.OrderID != "" {
		cp := *order
		c.orders[order.OrderID] = &cp
	}
	depth := c.depthLocked()
	c.mu.Unlock()

	c.logger.WithWorker(workerID).Debug("work assigned", "order_id", order.OrderID, "issue_id", order.IssueID)
	c.publish(event.NewWorkAssignedEvent(workerID, order.OrderID, order.IssueID))
	c.emit(metrics.Event{Type: metrics.EventWorkAssigned, WorkerID: workerID, OrderID: order.OrderID, IssueID: order.IssueID})
	c.publishDepth(depth)
	return nil
}

// CompleteWork records the result of the worker's current order. A result
// with Success false takes the failure path, as if FailWork had been called
// with result.Error.
func (c *Coordinator) CompleteWork(workerID string, result WorkOrderResult) error {
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "work order reported failure"
		}
		return c.FailWork(workerID, result.OrderID, errors.New(msg))
	}

	c.mu.Lock()
	w, err := c.workingLocked(workerID, result.OrderID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	issueID := w.CurrentIssueID
	duration := c.elapsedLocked(w)

	w.Status = WorkerIdle
	w.CurrentIssueID = ""
	w.CurrentOrderID = ""
	w.StartedAt = nil
	w.CompletedTasks++
	c.markTerminalLocked(result.OrderID, true)
	depth := c.depthLocked()
	c.mu.Unlock()

	if result.CompletedAt.IsZero() {
		result.CompletedAt = c.now()
	}

	c.logger.WithWorker(workerID).Debug("work completed",
		"order_id", result.OrderID, "duration_ms", duration.Milliseconds(), "files", len(result.FilesModified))

	c.cbMu.RLock()
	callbacks := append([]registered[CompletionFunc](nil), c.onComplete...)
	c.cbMu.RUnlock()
	for _, cb := range callbacks {
		c.safeCall(cb.id, func() { cb.fn(workerID, result) })
	}

	c.publish(event.NewTaskCompletedEvent(workerID, result.OrderID, issueID, true, duration, ""))
	c.emit(metrics.Event{
		Type:     metrics.EventTaskCompleted,
		WorkerID: workerID,
		OrderID:  result.OrderID,
		IssueID:  issueID,
		Success:  true,
		Duration: duration,
	})
	c.publishDepth(depth)
	return nil
}

// FailWork moves a working worker to error and records orderID as failed.
func (c *Coordinator) FailWork(workerID, orderID string, cause error) error {
	if cause == nil {
		cause = errors.New("unknown error")
	}

	c.mu.Lock()
	w, err := c.workingLocked(workerID, orderID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	issueID := w.CurrentIssueID
	duration := c.elapsedLocked(w)

	w.Status = WorkerError
	w.LastError = cause.Error()
	w.CurrentIssueID = ""
	w.CurrentOrderID = ""
	w.StartedAt = nil
	c.markTerminalLocked(orderID, false)
	depth := c.depthLocked()
	c.mu.Unlock()

	c.logger.WithWorker(workerID).Warn("work failed", "order_id", orderID, "error", cause.Error())

	c.cbMu.RLock()
	callbacks := append([]registered[FailureFunc](nil), c.onFailure...)
	c.cbMu.RUnlock()
	for _, cb := range callbacks {
		c.safeCall(cb.id, func() { cb.fn(workerID, orderID, cause) })
	}

	c.publish(event.NewTaskCompletedEvent(workerID, orderID, issueID, false, duration, cause.Error()))
	c.emit(metrics.Event{
		Type:     metrics.EventTaskCompleted,
		WorkerID: workerID,
		OrderID:  orderID,
		IssueID:  issueID,
		Success:  false,
		Duration: duration,
		Error:    cause.Error(),
	})
	c.publishDepth(depth)
	return nil
}

// ReleaseWorker returns a working worker to idle without recording a
// result. Releasing an idle worker is a no-op; an errored worker must be
// reset instead.
func (c *Coordinator) ReleaseWorker(workerID string) error {
	c.mu.Lock()
	w, ok := c.byID[workerID]
	if !ok {
		c.mu.Unlock()
		return errors.NewWorkerNotFoundError(workerID)
	}
	switch w.Status {
	case WorkerIdle:
		c.mu.Unlock()
		return nil
	case WorkerError:
		c.mu.Unlock()
		return errors.NewWorkerNotAvailableError(workerID, string(WorkerError))
	}
	issueID := w.CurrentIssueID
	w.Status = WorkerIdle
	w.CurrentIssueID = ""
	w.CurrentOrderID = ""
	w.StartedAt = nil
	depth := c.depthLocked()
	c.mu.Unlock()

	c.logger.WithWorker(workerID).Debug("worker released", "issue_id", issueID)
	c.publish(event.NewWorkerReleasedEvent(workerID, issueID))
	c.publishDepth(depth)
	return nil
}

// ResetWorker clears an errored worker back to idle. Resetting an idle
// worker is a no-op; a working worker must be completed or released.
func (c *Coordinator) ResetWorker(workerID string) error {
	c.mu.Lock()
	w, ok := c.byID[workerID]
	if !ok {
		c.mu.Unlock()
		return errors.NewWorkerNotFoundError(workerID)
	}
	switch w.Status {
	case WorkerIdle:
		c.mu.Unlock()
		return nil
	case WorkerWorking:
		c.mu.Unlock()
		return errors.NewWorkerNotAvailableError(workerID, string(WorkerWorking))
	}
	w.Status = WorkerIdle
	w.LastError = ""
	depth := c.depthLocked()
	c.mu.Unlock()

	c.logger.WithWorker(workerID).Debug("worker reset")
	c.publish(event.NewWorkerResetEvent(workerID))
	c.publishDepth(depth)
	return nil
}

// -----------------------------------------------------------------------------
// Queue
// -----------------------------------------------------------------------------

// Enqueue adds issueID to the queue. Enqueuing an issue that is already
// queued replaces its entry and increments its attempt count.
func (c *Coordinator) Enqueue(issueID string, score float64) QueueEntry {
	c.mu.Lock()
	entry := c.queue.push(issueID, score, c.now())
	depth := c.depthLocked()
	c.mu.Unlock()

	c.logger.Debug("issue enqueued", "issue_id", issueID, "score", score, "attempts", entry.Attempts)
	c.publishDepth(depth)
	return entry
}

// Dequeue removes and returns the highest-scored issue. Ties come out in
// enqueue order.
func (c *Coordinator) Dequeue() (string, bool) {
	c.mu.Lock()
	entry, ok := c.queue.pop()
	depth := c.depthLocked()
	c.mu.Unlock()

	if !ok {
		return "", false
	}
	c.logger.Debug("issue dequeued", "issue_id", entry.IssueID, "score", entry.PriorityScore)
	c.publishDepth(depth)
	return entry.IssueID, true
}

// Reset returns every worker to idle with a zero completed count and
// empties the queue and the completed and failed sets. The order ID counter
// and the order registry are kept so IDs are never reused.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	for _, w := range c.workers {
		*w = Worker{ID: w.ID, Status: WorkerIdle}
	}
	c.queue.clear()
	c.completed = nil
	c.failed = nil
	c.terminal = make(map[string]bool)
	depth := c.depthLocked()
	c.mu.Unlock()

	c.logger.Info("coordinator reset")
	c.publishDepth(depth)
}

// -----------------------------------------------------------------------------
// Callbacks
// -----------------------------------------------------------------------------

// OnCompletion registers fn for successful completions and returns an ID
// for RemoveCallback.
func (c *Coordinator) OnCompletion(fn CompletionFunc) string {
	id := c.nextCallbackID()
	c.cbMu.Lock()
	c.onComplete = append(c.onComplete, registered[CompletionFunc]{id: id, fn: fn})
	c.cbMu.Unlock()
	return id
}

// OnFailure registers fn for failures.
func (c *Coordinator) OnFailure(fn FailureFunc) string {
	id := c.nextCallbackID()
	c.cbMu.Lock()
	c.onFailure = append(c.onFailure, registered[FailureFunc]{id: id, fn: fn})
	c.cbMu.Unlock()
	return id
}

// OnMetricsEvent registers fn for every metrics event.
func (c *Coordinator) OnMetricsEvent(fn MetricsFunc) string {
	id := c.nextCallbackID()
	c.cbMu.Lock()
	c.onMetrics = append(c.onMetrics, registered[MetricsFunc]{id: id, fn: fn})
	c.cbMu.Unlock()
	return id
}

// RemoveCallback unregisters a callback of any kind.
func (c *Coordinator) RemoveCallback(id string) bool {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	var removed bool
	c.onComplete, removed = without(c.onComplete, id)
	if removed {
		return true
	}
	c.onFailure, removed = without(c.onFailure, id)
	if removed {
		return true
	}
	c.onMetrics, removed = without(c.onMetrics, id)
	return removed
}

func without[F any](list []registered[F], id string) ([]registered[F], bool) {
	for i, r := range list {
		if r.id == id {
			out := make([]registered[F], 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
	}
	return list, false
}

func (c *Coordinator) nextCallbackID() string {
	return fmt.Sprintf("cb-%d", c.cbSeq.Add(1))
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// workingLocked returns the worker if it is working on orderID.
func (c *Coordinator) workingLocked(workerID, orderID string) (*Worker, error) {
	w, ok := c.byID[workerID]
	if !ok {
		return nil, errors.NewWorkerNotFoundError(workerID)
	}
	if w.Status != WorkerWorking {
		return nil, errors.NewWorkerNotAvailableError(workerID, string(w.Status))
	}
	if orderID == "" || (w.CurrentOrderID != "" && w.CurrentOrderID != orderID) {
		return nil, errors.NewWorkOrderNotFoundError(orderID)
	}
	return w, nil
}

func (c *Coordinator) elapsedLocked(w *Worker) time.Duration {
	if w.StartedAt == nil {
		return 0
	}
	return c.now().Sub(*w.StartedAt)
}

// markTerminalLocked records orderID in exactly one of the terminal sets.
func (c *Coordinator) markTerminalLocked(orderID string, success bool) {
	if c.terminal[orderID] {
		return
	}
	c.terminal[orderID] = true
	if success {
		c.completed = append(c.completed, orderID)
	} else {
		c.failed = append(c.failed, orderID)
	}
}

type depthSnapshot struct {
	depth, idle, working, errored int
}

func (c *Coordinator) depthLocked() depthSnapshot {
	d := depthSnapshot{depth: c.queue.len()}
	for _, w := range c.workers {
		switch w.Status {
		case WorkerIdle:
			d.idle++
		case WorkerWorking:
			d.working++
		case WorkerError:
			d.errored++
		}
	}
	return d
}

func (c *Coordinator) publishDepth(d depthSnapshot) {
	c.publish(event.NewQueueDepthChangedEvent(d.depth, d.idle, d.working, d.errored))
	c.emit(metrics.Event{
		Type:    metrics.EventQueueDepth,
		Depth:   d.depth,
		Idle:    d.idle,
		Working: d.working,
		Errored: d.errored,
	})
}

func (c *Coordinator) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Coordinator) emit(e metrics.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	c.metrics.Record(e)

	c.cbMu.RLock()
	callbacks := append([]registered[MetricsFunc](nil), c.onMetrics...)
	c.cbMu.RUnlock()
	for _, cb := range callbacks {
		c.safeCall(cb.id, func() { cb.fn(e) })
	}
}

func (c *Coordinator) safeCall(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("callback panicked",
				"callback", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func formatOrderID(n int) string {
	return fmt.Sprintf("WO-%03d", n)
}
