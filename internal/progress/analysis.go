package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/Iron-Ham/foreman/internal/workpool"
)

// CalculateMetrics derives progress metrics from one observation and the
// monitor's running counters.
func (m *Monitor) CalculateMetrics(status workpool.PoolStatus, queue []workpool.QueueEntry) ProgressMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsLocked(status, queue, m.now())
}

func (m *Monitor) metricsLocked(status workpool.PoolStatus, queue []workpool.QueueEntry, now time.Time) ProgressMetrics {
	pm := ProgressMetrics{
		Completed:  m.completed,
		Failed:     m.failed,
		InProgress: status.WorkingWorkers,
		Pending:    len(queue),
	}
	pm.TotalIssues = m.cfg.TotalIssues
	if pm.TotalIssues <= 0 {
		pm.TotalIssues = pm.Completed + pm.Failed + pm.InProgress + pm.Pending
	}
	if pm.TotalIssues > 0 {
		pm.Percentage = int(math.Round(float64(pm.Completed) / float64(pm.TotalIssues) * 100))
	}

	if m.timed > 0 {
		avg := m.totalTime / time.Duration(m.timed)
		ms := avg.Milliseconds()
		pm.AverageCompletionTimeMs = &ms

		workers := status.TotalWorkers
		if workers < 1 {
			workers = len(status.Workers)
		}
		if workers > 0 {
			eta := now.Add(avg * time.Duration(pm.Pending) / time.Duration(workers))
			pm.ETA = &eta
		}
	}
	return pm
}

// DetectBottlenecks evaluates the bottleneck rules against one observation.
// The result reflects only the observation given.
func (m *Monitor) DetectBottlenecks(status workpool.PoolStatus, queue []workpool.QueueEntry) []Bottleneck {
	return detectBottlenecks(status, queue, m.now(), m.cfg.StuckWorkerThreshold)
}

func detectBottlenecks(status workpool.PoolStatus, queue []workpool.QueueEntry, now time.Time, stuckAfter time.Duration) []Bottleneck {
	var out []Bottleneck

	cutoff := now.Add(-stuckAfter)
	for _, w := range status.Workers {
		if w.Status != workpool.WorkerWorking || w.StartedAt == nil || !w.StartedAt.Before(cutoff) {
			continue
		}
		out = append(out, Bottleneck{
			Type: BottleneckStuckWorker,
			Description: fmt.Sprintf("%s has been working on %s for %s",
				w.ID, w.CurrentIssueID, now.Sub(*w.StartedAt).Round(time.Second)),
			Severity: SeverityHigh,
			WorkerID: w.ID,
			IssueID:  w.CurrentIssueID,
		})
	}

	if status.IdleWorkers > 0 && len(queue) > 0 {
		out = append(out, Bottleneck{
			Type: BottleneckBlockedChain,
			Description: fmt.Sprintf("%d idle worker(s) while %d issue(s) wait in the queue",
				status.IdleWorkers, len(queue)),
			Severity: SeverityMedium,
		})
	}

	total := status.TotalWorkers
	if total > 0 && status.WorkingWorkers == total && len(queue) > 2*total {
		out = append(out, Bottleneck{
			Type: BottleneckResourceContention,
			Description: fmt.Sprintf("all %d workers busy with %d issue(s) queued",
				total, len(queue)),
			Severity: SeverityMedium,
		})
	}

	for _, w := range status.Workers {
		if w.Status != workpool.WorkerError {
			continue
		}
		desc := w.ID + " is in error state"
		if w.LastError != "" {
			desc += ": " + w.LastError
		}
		out = append(out, Bottleneck{
			Type:        BottleneckErrorWorker,
			Description: desc,
			Severity:    SeverityHigh,
			WorkerID:    w.ID,
		})
	}
	return out
}
