package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/store"
	"github.com/Iron-Ham/foreman/internal/workpool"
)

// Report file names under the report store.
const (
	ReportJSONKey     = "progress_report.json"
	ReportMarkdownKey = "progress_report.md"
)

// GenerateReport assembles a report from one observation.
func (m *Monitor) GenerateReport(metrics ProgressMetrics, status workpool.PoolStatus, bottlenecks []Bottleneck) Report {
	workers := make([]workpool.Worker, 0, len(status.Workers))
	for _, w := range status.Workers {
		workers = append(workers, w.Clone())
	}
	bs := make([]Bottleneck, len(bottlenecks))
	copy(bs, bottlenecks)
	return Report{
		SessionID:      m.sessionID,
		GeneratedAt:    m.now(),
		Metrics:        metrics,
		Workers:        workers,
		Bottlenecks:    bs,
		RecentActivity: m.RecentActivity(),
	}
}

// GenerateMarkdownReport renders r as a markdown document with Summary,
// Workers, Bottlenecks and Recent Activity sections.
func GenerateMarkdownReport(r Report) string {
	var b strings.Builder

	b.WriteString("# Progress Report\n\n")
	fmt.Fprintf(&b, "Session: `%s`  \nGenerated: %s\n\n", r.SessionID, r.GeneratedAt.UTC().Format(time.RFC3339))

	pm := r.Metrics
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Progress:** %d%% (%d/%d)\n", pm.Percentage, pm.Completed, pm.TotalIssues)
	fmt.Fprintf(&b, "- **Completed:** %d\n", pm.Completed)
	fmt.Fprintf(&b, "- **Failed:** %d\n", pm.Failed)
	fmt.Fprintf(&b, "- **In progress:** %d\n", pm.InProgress)
	fmt.Fprintf(&b, "- **Pending:** %d\n", pm.Pending)
	if pm.AverageCompletionTimeMs != nil {
		avg := time.Duration(*pm.AverageCompletionTimeMs) * time.Millisecond
		fmt.Fprintf(&b, "- **Average completion time:** %s\n", avg)
	}
	if pm.ETA != nil {
		fmt.Fprintf(&b, "- **ETA:** %s\n", pm.ETA.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	b.WriteString("## Workers\n\n")
	if len(r.Workers) == 0 {
		b.WriteString("_No workers._\n\n")
	} else {
		b.WriteString("| Worker | Status | Issue | Completed | Last Error |\n")
		b.WriteString("|--------|--------|-------|-----------|------------|\n")
		for _, w := range r.Workers {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n",
				w.ID, w.Status, dashIfEmpty(w.CurrentIssueID), w.CompletedTasks, dashIfEmpty(escapeCell(w.LastError)))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Bottlenecks\n\n")
	if len(r.Bottlenecks) == 0 {
		b.WriteString("_None detected._\n\n")
	} else {
		for _, bn := range r.Bottlenecks {
			fmt.Fprintf(&b, "- **[%s]** `%s`: %s\n", strings.ToUpper(string(bn.Severity)), bn.Type, bn.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent Activity\n\n")
	if len(r.RecentActivity) == 0 {
		b.WriteString("_No activity recorded._\n")
	} else {
		for _, a := range r.RecentActivity {
			line := fmt.Sprintf("- %s %s `%s`", a.Timestamp.UTC().Format(time.RFC3339), a.Type, a.IssueID)
			if a.WorkerID != "" {
				line += " on " + a.WorkerID
			}
			if a.Details != "" {
				line += ": " + a.Details
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// SaveReport writes r in both structured and markdown form.
func (m *Monitor) SaveReport(ctx context.Context, r Report) error {
	st, err := m.reportStore()
	if err != nil {
		return err
	}
	if err := store.PutJSON(ctx, st, ReportJSONKey, r); err != nil {
		return errors.Wrap(err, "save progress report")
	}
	if err := st.Put(ctx, ReportMarkdownKey, []byte(GenerateMarkdownReport(r))); err != nil {
		return errors.Wrap(err, "save markdown report")
	}
	m.logger.Debug("progress report saved", "session_id", r.SessionID)
	return nil
}

// LoadReport reads the last saved structured report. It returns nil, nil
// when no report has been saved.
func (m *Monitor) LoadReport(ctx context.Context) (*Report, error) {
	st, err := m.reportStore()
	if err != nil {
		return nil, err
	}
	var r Report
	if err := store.GetJSON(ctx, st, ReportJSONKey, &r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load progress report")
	}
	return &r, nil
}

// LoadMarkdownReport reads the last saved markdown report, or "" if none.
func (m *Monitor) LoadMarkdownReport(ctx context.Context) (string, error) {
	st, err := m.reportStore()
	if err != nil {
		return "", err
	}
	data, err := st.Get(ctx, ReportMarkdownKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", errors.Wrap(err, "load markdown report")
	}
	return string(data), nil
}

func (m *Monitor) reportStore() (store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		return m.store, nil
	}
	fs, err := store.NewFileStore(m.cfg.ReportPath)
	if err != nil {
		return nil, errors.Wrap(err, "open report directory")
	}
	m.store = fs
	m.ownsStore = true
	return fs, nil
}

// Close releases the report store if the monitor opened it.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil || !m.ownsStore {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	return err
}
