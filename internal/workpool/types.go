package workpool

import "time"

// WorkerStatus is the state of a worker slot.
type WorkerStatus string

// Worker statuses.
const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerWorking WorkerStatus = "working"
	WorkerError   WorkerStatus = "error"
)

// Worker is one logical execution slot. CurrentIssueID and CurrentOrderID
// are set iff Status is working.
type Worker struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentIssueID string       `json:"currentIssueId,omitempty"`
	CurrentOrderID string       `json:"currentOrderId,omitempty"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	CompletedTasks int          `json:"completedTasks"`
	LastError      string       `json:"lastError,omitempty"`
}

// Clone returns a copy of w that shares no pointers with it.
func (w Worker) Clone() Worker {
	if w.StartedAt != nil {
		t := *w.StartedAt
		w.StartedAt = &t
	}
	return w
}

// Issue is a unit of work offered by an external producer. PriorityScore,
// when set, takes precedence over the Priority label.
type Issue struct {
	ID            string   `json:"id"`
	URL           string   `json:"url,omitempty"`
	Priority      Priority `json:"priority,omitempty"`
	PriorityScore *float64 `json:"priorityScore,omitempty"`
}

// OrderContext carries optional references that help the executor.
type OrderContext struct {
	ComponentRef   string   `json:"componentRef,omitempty"`
	FeatureRef     string   `json:"featureRef,omitempty"`
	RequirementRef string   `json:"requirementRef,omitempty"`
	RelatedFiles   []string `json:"relatedFiles"`
}

// WorkOrder is the durable record of one unit of assigned work.
type WorkOrder struct {
	OrderID   string       `json:"orderId"`
	IssueID   string       `json:"issueId"`
	IssueURL  string       `json:"issueUrl,omitempty"`
	Priority  float64      `json:"priority"`
	Context   OrderContext `json:"context"`
	CreatedAt time.Time    `json:"createdAt"`
}

// WorkOrderResult is submitted by the executor when an order finishes.
type WorkOrderResult struct {
	OrderID       string    `json:"orderId"`
	Success       bool      `json:"success"`
	CompletedAt   time.Time `json:"completedAt"`
	FilesModified []string  `json:"filesModified"`
	Error         string    `json:"error,omitempty"`
}

// QueueEntry is an issue waiting for a worker slot.
type QueueEntry struct {
	IssueID       string    `json:"issueId"`
	PriorityScore float64   `json:"priorityScore"`
	QueuedAt      time.Time `json:"queuedAt"`
	Attempts      int       `json:"attempts"`
}

// PoolStatus is a snapshot of the pool.
type PoolStatus struct {
	Workers        []Worker `json:"workers"`
	TotalWorkers   int      `json:"totalWorkers"`
	IdleWorkers    int      `json:"idleWorkers"`
	WorkingWorkers int      `json:"workingWorkers"`
	ErrorWorkers   int      `json:"errorWorkers"`
	ActiveOrders   []string `json:"activeOrders"`
}

// ControllerState is the persisted snapshot of a coordinator.
type ControllerState struct {
	ProjectID       string       `json:"projectId"`
	WorkerPool      []Worker     `json:"workerPool"`
	WorkQueue       []QueueEntry `json:"workQueue"`
	CompletedOrders []string     `json:"completedOrders"`
	FailedOrders    []string     `json:"failedOrders"`
	SavedAt         time.Time    `json:"savedAt"`
}
