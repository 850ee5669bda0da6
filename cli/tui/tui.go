package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// View types with TUI support.
const (
	ViewReplay   = "replay"
	ViewOutcomes = "outcomes"
)

// Run starts the TUI for viewType.
func Run(viewType string, data any) error {
	var model tea.Model
	switch viewType {
	case ViewReplay:
		model = NewReplayModel(data)
	case ViewOutcomes:
		model = NewOutcomesModel(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewReplay, ViewOutcomes}
}

// keyMap defines key bindings shared by all views.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
	Top  key.Binding
	End  key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Top: key.NewBinding(
		key.WithKeys("home", "g"),
		key.WithHelp("g", "top"),
	),
	End: key.NewBinding(
		key.WithKeys("end", "G"),
		key.WithHelp("G", "bottom"),
	),
}

// listState is a cursor over n rows with a visible window.
type listState struct {
	cursor int
	offset int
	height int
}

// move applies a key to the cursor and keeps it inside the window.
func (l *listState) move(msg tea.KeyMsg, n int) {
	switch {
	case key.Matches(msg, keys.Up):
		l.cursor--
	case key.Matches(msg, keys.Down):
		l.cursor++
	case key.Matches(msg, keys.Top):
		l.cursor = 0
	case key.Matches(msg, keys.End):
		l.cursor = n - 1
	}
	l.cursor = max(0, min(l.cursor, n-1))

	h := l.visible()
	if l.cursor < l.offset {
		l.offset = l.cursor
	}
	if l.cursor >= l.offset+h {
		l.offset = l.cursor - h + 1
	}
}

// visible returns how many rows fit; at least one.
func (l *listState) visible() int {
	return max(1, l.height)
}

// window returns the [start, end) rows to draw.
func (l *listState) window(n int) (int, int) {
	start := min(l.offset, max(0, n-1))
	return start, min(n, start+l.visible())
}

func helpLine() string {
	return HelpStyle.Render("↑/↓ move • g/G top/bottom • q quit")
}
