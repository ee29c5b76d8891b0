package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/foreman/internal/workpool"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// pool builds a PoolStatus from workers, filling in the counts.
func pool(workers ...workpool.Worker) workpool.PoolStatus {
	s := workpool.PoolStatus{Workers: workers, TotalWorkers: len(workers)}
	for _, w := range workers {
		switch w.Status {
		case workpool.WorkerIdle:
			s.IdleWorkers++
		case workpool.WorkerWorking:
			s.WorkingWorkers++
		case workpool.WorkerError:
			s.ErrorWorkers++
		}
	}
	return s
}

func idle(id string) workpool.Worker {
	return workpool.Worker{ID: id, Status: workpool.WorkerIdle}
}

func working(id, issueID string, startedAt time.Time) workpool.Worker {
	return workpool.Worker{ID: id, Status: workpool.WorkerWorking, CurrentIssueID: issueID, StartedAt: &startedAt}
}

func errored(id, msg string) workpool.Worker {
	return workpool.Worker{ID: id, Status: workpool.WorkerError, LastError: msg}
}

func queueOf(n int) []workpool.QueueEntry {
	q := make([]workpool.QueueEntry, n)
	for i := range q {
		q[i] = workpool.QueueEntry{IssueID: fmt.Sprintf("Q-%d", i+1), PriorityScore: 50}
	}
	return q
}

func fixed(s workpool.PoolStatus, q []workpool.QueueEntry) (StatusFunc, QueueFunc) {
	return func() workpool.PoolStatus { return s }, func() []workpool.QueueEntry { return q }
}
