package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/foreman/internal/graph"
)

var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusCompleted = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusSkipped = lipgloss.NewStyle().
				Foreground(lipgloss.Color("208"))

	StyleStatusBlocked = lipgloss.NewStyle().
				Foreground(lipgloss.Color("205"))

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// statusGlyph maps a task status to its one-character marker.
func statusGlyph(status graph.Status) string {
	switch status {
	case graph.StatusCompleted:
		return StyleStatusCompleted.Render("✓")
	case graph.StatusFailed:
		return StyleStatusFailed.Render("✗")
	case graph.StatusSkipped:
		return StyleStatusSkipped.Render("⊘")
	case graph.StatusBlocked:
		return StyleStatusBlocked.Render("⊗")
	case graph.StatusRunning:
		return StyleStatusRunning.Render("▶")
	default:
		return StyleStatusPending.Render("·")
	}
}
