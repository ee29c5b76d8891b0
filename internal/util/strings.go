// Package util provides text helpers for column-aligned terminal output.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Width returns the number of terminal columns s occupies. Escape codes
// take no columns and wide runes take two.
func Width(s string) int {
	return lipgloss.Width(s)
}

// TruncateString truncates s to maxLen runes, adding "..." if truncated.
// It ignores escape codes and wide runes; use Truncate for text that is
// printed to a terminal.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// Truncate shortens s to maxWidth columns, adding "..." if truncated.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate counts the tail toward maxWidth.
	return ansi.Truncate(s, maxWidth, "...")
}

// PadRight pads s with spaces to width columns. Strings already at least
// width wide are returned unchanged.
func PadRight(s string, width int) string {
	if gap := width - Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
