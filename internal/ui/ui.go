// Package ui provides shared rendering helpers for helmdesk.
package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/helmdesk/helmdesk/internal/session"
)

// Colors and styles for the TUI
const (
	ColorReset   = "\033[0m"
	ColorBold    = "\033[1m"
	ColorDim     = "\033[2m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorWhite   = "\033[37m"
)

// StateIcon returns the icon for a session lifecycle state.
func StateIcon(state session.State, pendingStart bool) string {
	if pendingStart {
		return "◌" // Dotted circle while waiting for startup
	}
	switch state {
	case session.StateRunning:
		return "●"
	case session.StateReviewed:
		return "✓"
	default:
		return "○" // Spec draft
	}
}

// StateColor returns the color for a session lifecycle state.
func StateColor(state session.State, pendingStart bool) string {
	if pendingStart {
		return ColorYellow
	}
	switch state {
	case session.StateRunning:
		return ColorGreen
	case session.StateReviewed:
		return ColorCyan
	default:
		return ColorWhite
	}
}

// StateText returns the label for a session lifecycle state.
func StateText(state session.State, pendingStart bool) string {
	if pendingStart {
		return "STARTING"
	}
	switch state {
	case session.StateRunning:
		return "RUNNING"
	case session.StateReviewed:
		return "REVIEWED"
	default:
		return "SPEC"
	}
}

// Row is one entry in the session list: the orchestrator line or a
// session line.
type Row struct {
	Title        string
	Branch       string
	State        session.State
	PendingStart bool
	ReadyToMerge bool
	Orchestrator bool
	Selected     bool
	Width        int
}

// Render renders a list row to a single line.
func (r *Row) Render() string {
	width := r.Width
	if width < 10 {
		width = 40
	}

	marker := "  "
	if r.Selected {
		marker = "❯ "
	}

	var icon, color, label string
	if r.Orchestrator {
		icon, color, label = "⌂", ColorBlue, "ORCH"
	} else {
		icon = StateIcon(r.State, r.PendingStart)
		color = StateColor(r.State, r.PendingStart)
		label = StateText(r.State, r.PendingStart)
	}

	suffix := label
	if r.ReadyToMerge {
		suffix += " ⇡"
	}
	if r.Branch != "" {
		suffix = r.Branch + "  " + suffix
	}

	left := marker + icon + " " + r.Title
	avail := width - runewidth.StringWidth(left) - runewidth.StringWidth(suffix) - 1
	if avail < 1 {
		return color + Truncate(left, width) + ColorReset
	}

	line := left + strings.Repeat(" ", avail) + ColorDim + suffix + ColorReset
	if r.Selected {
		return ColorBold + color + line
	}
	return color + line
}

// Truncate shortens a string to fit in the given width.
func Truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// RenderStatusBar creates the bottom status bar content.
func RenderStatusBar(projectName string, sessionCount, runningCount int, backlog int, version string) string {
	stats := fmt.Sprintf("%s │ %d sessions │ %d running", projectName, sessionCount, runningCount)
	if backlog > 0 {
		stats += fmt.Sprintf(" │ %s buffered", FormatBytes(backlog))
	}
	help := "j/k:nav enter:select o:orchestrator r:refresh q:quit"

	return stats + "        " + help + "        " + version
}

// FormatBytes formats a byte count for display.
func FormatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// HelpText returns the help screen content.
func HelpText() string {
	return `helmdesk - agent session manager

Navigation
  j/k or arrows      Navigate the session list
  Enter              Select the highlighted session
  o                  Back to the orchestrator view
  Tab                Cycle focus: list, top pane, bottom pane
                     (keys typed into a focused pane go to its shell)

Sessions
  r                  Refresh session state
  R                  Force-recreate the selected session's terminals
  s                  Toggle spec (draft) sessions in the list

Terminal
  PgUp/PgDn          Scroll the focused terminal
  G                  Jump back to live output

Other
  ?                  Show this help
  q                  Quit helmdesk

Press any key to close this help...`
}
