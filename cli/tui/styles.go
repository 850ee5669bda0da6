// Package tui provides Bubble Tea views for the gatehouse CLI.
//
// Views are opt-in (--tui), read-only, and show the same payloads the
// json, table and yaml renderers print.
package tui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor = lipgloss.Color("#14B8A6")
	okColor     = lipgloss.Color("#22C55E")
	warnColor   = lipgloss.Color("#EAB308")
	errorColor  = lipgloss.Color("#F43F5E")
	dimColor    = lipgloss.Color("#94A3B8")
	cursorColor = lipgloss.Color("#6366F1")
	textColor   = lipgloss.Color("#F8FAFC")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(dimColor).Width(12)
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)
	MutedStyle = lipgloss.NewStyle().Foreground(dimColor)
	HelpStyle  = lipgloss.NewStyle().Foreground(dimColor).MarginTop(1)

	// BoxStyle frames the startup banner.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(1, 2)

	// SelectedStyle marks the cursor row.
	SelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(cursorColor)

	statBox = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		Padding(0, 1).
		Width(14).
		Align(lipgloss.Center)
)

// StateStyle colors a delivery outcome or a part kind.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "delivered", "event", "stopped":
		return lipgloss.NewStyle().Foreground(okColor)
	case "abandoned", "filtered", "no_json", "unhandled":
		return lipgloss.NewStyle().Foreground(warnColor)
	case "rejected", "exhausted", "fault", "frame_error", "device_lost", "failed":
		return lipgloss.NewStyle().Foreground(errorColor)
	}
	return ValueStyle
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	num := lipgloss.NewStyle().Bold(true).Foreground(color).Render(strconv.FormatInt(value, 10))
	return statBox.BorderForeground(color).Render(
		lipgloss.JoinVertical(lipgloss.Center, num, MutedStyle.Render(label)))
}
