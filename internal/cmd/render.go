package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/foreman/internal/util"
	"github.com/Iron-Ham/foreman/internal/workpool"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	workingColor = lipgloss.Color("#10B981") // Green
	errorColor   = lipgloss.Color("#F87171") // Red
	warningColor = lipgloss.Color("#F59E0B") // Amber

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(mutedColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warningColor)

	statusStyles = map[workpool.WorkerStatus]lipgloss.Style{
		workpool.WorkerIdle:    lipgloss.NewStyle().Foreground(mutedColor),
		workpool.WorkerWorking: lipgloss.NewStyle().Foreground(workingColor).Bold(true),
		workpool.WorkerError:   lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
)

// printer writes command output, styling it only on a terminal.
type printer struct {
	w      io.Writer
	styled bool
	width  int
}

func newPrinter(cmd *cobra.Command, noColor bool) printer {
	p := printer{w: cmd.OutOrStdout()}
	if f, ok := p.w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.styled = !noColor
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = w
		}
	}
	return p
}

func (p printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// workerTable renders workers as aligned columns. Padding is applied before
// styling so escape codes do not skew alignment.
func (p printer) workerTable(workers []workpool.Worker, now time.Time) {
	headers := []string{"WORKER", "STATUS", "ISSUE", "ORDER", "ELAPSED", "DONE", "LAST ERROR"}
	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		elapsed := "-"
		if w.Status == workpool.WorkerWorking && w.StartedAt != nil {
			elapsed = now.Sub(*w.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			w.ID,
			string(w.Status),
			orDash(w.CurrentIssueID),
			orDash(w.CurrentOrderID),
			elapsed,
			fmt.Sprintf("%d", w.CompletedTasks),
			orDash(w.LastError),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = util.Width(h)
	}
	for _, r := range rows {
		for i, cell := range r[:len(r)-1] {
			widths[i] = max(widths[i], util.Width(cell))
		}
	}

	// The last column is not padded; truncate it to the terminal width.
	used := 0
	for _, w := range widths[:len(widths)-1] {
		used += w + 2
	}
	lastMax := 0
	if p.width > 0 {
		lastMax = max(p.width-used, 12)
	}

	var hdr strings.Builder
	for i, h := range headers {
		hdr.WriteString(pad(h, widths[i], i == len(headers)-1))
	}
	p.printf("%s\n", p.render(headerStyle, strings.TrimRight(hdr.String(), " ")))

	for ri, r := range rows {
		var line strings.Builder
		for i, cell := range r {
			last := i == len(r)-1
			if last && lastMax > 0 {
				cell = util.Truncate(cell, lastMax)
			}
			text := pad(cell, widths[i], last)
			if i == 1 {
				text = p.render(statusStyles[workers[ri].Status], text)
			}
			line.WriteString(text)
		}
		p.printf("%s\n", strings.TrimRight(line.String(), " "))
	}
}

func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	return util.PadRight(s, width) + "  "
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// toYAML renders v as block-style YAML using its JSON field names and
// field order.
func toYAML(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	blockStyle(&node)
	return yaml.Marshal(&node)
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
