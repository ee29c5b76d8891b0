package progress

import (
	"time"

	"github.com/Iron-Ham/foreman/internal/workpool"
)

// ActivityType classifies a RecentActivity entry.
type ActivityType string

// Activity types.
const (
	ActivityStarted   ActivityType = "started"
	ActivityCompleted ActivityType = "completed"
	ActivityFailed    ActivityType = "failed"
	ActivityBlocked   ActivityType = "blocked"
)

// Activity is one entry of the recent activity log.
type Activity struct {
	Type      ActivityType `json:"type"`
	IssueID   string       `json:"issueId"`
	WorkerID  string       `json:"workerId,omitempty"`
	Details   string       `json:"details,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// BottleneckType classifies a detected bottleneck.
type BottleneckType string

// Bottleneck types.
const (
	BottleneckStuckWorker        BottleneckType = "stuck_worker"
	BottleneckBlockedChain       BottleneckType = "blocked_chain"
	BottleneckResourceContention BottleneckType = "resource_contention"
	BottleneckErrorWorker        BottleneckType = "error_worker"
)

// Severity ranks a bottleneck.
type Severity string

// Severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Bottleneck is a condition holding throughput below its potential.
// Bottlenecks are recomputed on every poll and never accumulated.
type Bottleneck struct {
	Type        BottleneckType `json:"type"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	WorkerID    string         `json:"workerId,omitempty"`
	IssueID     string         `json:"issueId,omitempty"`
}

// key identifies a bottleneck across polls.
func (b Bottleneck) key() string {
	return string(b.Type) + "/" + b.WorkerID
}

// ProgressMetrics is derived from one observation of the pool.
type ProgressMetrics struct {
	TotalIssues             int        `json:"totalIssues"`
	Completed               int        `json:"completed"`
	Failed                  int        `json:"failed"`
	InProgress              int        `json:"inProgress"`
	Pending                 int        `json:"pending"`
	Percentage              int        `json:"percentage"`
	AverageCompletionTimeMs *int64     `json:"averageCompletionTimeMs,omitempty"`
	ETA                     *time.Time `json:"etaTimestamp,omitempty"`
}

// Report is the structured progress report.
type Report struct {
	SessionID      string            `json:"sessionId"`
	GeneratedAt    time.Time         `json:"generatedAt"`
	Metrics        ProgressMetrics   `json:"metrics"`
	Workers        []workpool.Worker `json:"workers"`
	Bottlenecks    []Bottleneck      `json:"bottlenecks"`
	RecentActivity []Activity        `json:"recentActivity"`
}

// EventType identifies a monitor event.
type EventType string

// Monitor event types.
const (
	EventProgressUpdated    EventType = "progress_updated"
	EventBottleneckDetected EventType = "bottleneck_detected"
)

// Event is delivered to monitor listeners.
type Event struct {
	Type       EventType        `json:"type"`
	Metrics    *ProgressMetrics `json:"metrics,omitempty"`
	Bottleneck *Bottleneck      `json:"bottleneck,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Listener receives monitor events. A returned error is logged and does
// not stop delivery to other listeners.
type Listener func(Event) error

// StatusFunc returns the current pool status.
type StatusFunc func() workpool.PoolStatus

// QueueFunc returns the current queue contents.
type QueueFunc func() []workpool.QueueEntry
