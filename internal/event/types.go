package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeWorkOrderCreated   = "work_order.created"
	TypeWorkAssigned       = "work.assigned"
	TypeTaskCompleted      = "task.completed"
	TypeWorkerReleased     = "worker.released"
	TypeWorkerReset        = "worker.reset"
	TypeQueueDepthChanged  = "queue.depth_changed"
	TypeLockAcquired       = "lock.acquired"
	TypeLockReleased       = "lock.released"
	TypeLockTimeout        = "lock.timeout"
	TypeProgressUpdated    = "progress.updated"
	TypeBottleneckDetected = "bottleneck.detected"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Coordinator Events
// -----------------------------------------------------------------------------

// WorkOrderCreatedEvent is emitted after a work order is allocated and persisted.
type WorkOrderCreatedEvent struct {
	baseEvent
	OrderID  string
	IssueID  string
	Priority float64
}

// NewWorkOrderCreatedEvent creates a WorkOrderCreatedEvent.
func NewWorkOrderCreatedEvent(orderID, issueID string, priority float64) WorkOrderCreatedEvent {
	return WorkOrderCreatedEvent{
		baseEvent: newBaseEvent(TypeWorkOrderCreated),
		OrderID:   orderID,
		IssueID:   issueID,
		Priority:  priority,
	}
}

// WorkAssignedEvent is emitted when a worker transitions idle -> working.
type WorkAssignedEvent struct {
	baseEvent
	WorkerID string
	OrderID  string
	IssueID  string
}

// NewWorkAssignedEvent creates a WorkAssignedEvent.
func NewWorkAssignedEvent(workerID, orderID, issueID string) WorkAssignedEvent {
	return WorkAssignedEvent{
		baseEvent: newBaseEvent(TypeWorkAssigned),
		WorkerID:  workerID,
		OrderID:   orderID,
		IssueID:   issueID,
	}
}

// TaskCompletedEvent is emitted when a work order reaches a terminal state,
// successfully or not.
type TaskCompletedEvent struct {
	baseEvent
	WorkerID string
	OrderID  string
	IssueID  string
	Success  bool
	Duration time.Duration // zero if the start time was unknown
	Error    string
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(workerID, orderID, issueID string, success bool, duration time.Duration, errMsg string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		WorkerID:  workerID,
		OrderID:   orderID,
		IssueID:   issueID,
		Success:   success,
		Duration:  duration,
		Error:     errMsg,
	}
}

// WorkerReleasedEvent is emitted when a worker is forced back to idle
// without a result.
type WorkerReleasedEvent struct {
	baseEvent
	WorkerID string
	IssueID  string // issue the worker was holding, if any
}

// NewWorkerReleasedEvent creates a WorkerReleasedEvent.
func NewWorkerReleasedEvent(workerID, issueID string) WorkerReleasedEvent {
	return WorkerReleasedEvent{
		baseEvent: newBaseEvent(TypeWorkerReleased),
		WorkerID:  workerID,
		IssueID:   issueID,
	}
}

// WorkerResetEvent is emitted when an errored worker is reset to idle.
type WorkerResetEvent struct {
	baseEvent
	WorkerID string
}

// NewWorkerResetEvent creates a WorkerResetEvent.
func NewWorkerResetEvent(workerID string) WorkerResetEvent {
	return WorkerResetEvent{
		baseEvent: newBaseEvent(TypeWorkerReset),
		WorkerID:  workerID,
	}
}

// QueueDepthChangedEvent carries the queue length and worker status counts
// after any mutation of the pool.
type QueueDepthChangedEvent struct {
	baseEvent
	Depth   int
	Idle    int
	Working int
	Errored int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(depth, idle, working, errored int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent(TypeQueueDepthChanged),
		Depth:     depth,
		Idle:      idle,
		Working:   working,
		Errored:   errored,
	}
}

// -----------------------------------------------------------------------------
// Lock Events
// -----------------------------------------------------------------------------

// LockAcquiredEvent is emitted after a distributed lock is obtained.
type LockAcquiredEvent struct {
	baseEvent
	Name     string
	Holder   string
	Wait     time.Duration
	Attempts int
}

// NewLockAcquiredEvent creates a LockAcquiredEvent.
func NewLockAcquiredEvent(name, holder string, wait time.Duration, attempts int) LockAcquiredEvent {
	return LockAcquiredEvent{
		baseEvent: newBaseEvent(TypeLockAcquired),
		Name:      name,
		Holder:    holder,
		Wait:      wait,
		Attempts:  attempts,
	}
}

// LockReleasedEvent is emitted after a release attempt. Held is false when
// the lock had already expired or was owned by another holder.
type LockReleasedEvent struct {
	baseEvent
	Name   string
	Holder string
	Held   bool
}

// NewLockReleasedEvent creates a LockReleasedEvent.
func NewLockReleasedEvent(name, holder string, held bool) LockReleasedEvent {
	return LockReleasedEvent{
		baseEvent: newBaseEvent(TypeLockReleased),
		Name:      name,
		Holder:    holder,
		Held:      held,
	}
}

// LockTimeoutEvent is emitted when acquisition gives up.
type LockTimeoutEvent struct {
	baseEvent
	Name     string
	Holder   string
	Wait     time.Duration
	Attempts int
}

// NewLockTimeoutEvent creates a LockTimeoutEvent.
func NewLockTimeoutEvent(name, holder string, wait time.Duration, attempts int) LockTimeoutEvent {
	return LockTimeoutEvent{
		baseEvent: newBaseEvent(TypeLockTimeout),
		Name:      name,
		Holder:    holder,
		Wait:      wait,
		Attempts:  attempts,
	}
}

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// ProgressUpdatedEvent mirrors the monitor's per-poll metrics onto the bus.
type ProgressUpdatedEvent struct {
	baseEvent
	Total      int
	Completed  int
	InProgress int
	Pending    int
	Percentage int
}

// NewProgressUpdatedEvent creates a ProgressUpdatedEvent.
func NewProgressUpdatedEvent(total, completed, inProgress, pending, percentage int) ProgressUpdatedEvent {
	return ProgressUpdatedEvent{
		baseEvent:  newBaseEvent(TypeProgressUpdated),
		Total:      total,
		Completed:  completed,
		InProgress: inProgress,
		Pending:    pending,
		Percentage: percentage,
	}
}

// BottleneckDetectedEvent is emitted for each newly observed bottleneck.
type BottleneckDetectedEvent struct {
	baseEvent
	Kind        string
	Description string
	Severity    string
	WorkerID    string
}

// NewBottleneckDetectedEvent creates a BottleneckDetectedEvent.
func NewBottleneckDetectedEvent(kind, description, severity, workerID string) BottleneckDetectedEvent {
	return BottleneckDetectedEvent{
		baseEvent:   newBaseEvent(TypeBottleneckDetected),
		Kind:        kind,
		Description: description,
		Severity:    severity,
		WorkerID:    workerID,
	}
}
