package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/gatehouse/runtime"
)

// chromeLines is the height taken by title, stat boxes, header and help.
const chromeLines = 12

// ReplayModel shows replay counters and a scrollable list of parts.
type ReplayModel struct {
	data     *runtime.ReplayResult
	list     listState
	width    int
	quitting bool
}

// NewReplayModel creates a replay model. data must be *runtime.ReplayResult.
func NewReplayModel(data any) ReplayModel {
	res, _ := data.(*runtime.ReplayResult)
	return ReplayModel{data: res, list: listState{height: 10}}
}

// Init implements tea.Model.
func (m ReplayModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReplayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.list.height = msg.Height - chromeLines
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		if m.data != nil {
			m.list.move(msg, len(m.data.Entries))
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m ReplayModel) View() string {
	if m.quitting {
		return ""
	}
	if m.data == nil {
		return "Invalid data type for replay"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Replay"))
	b.WriteString("\n")

	boxes := []string{
		renderStatBox("Parts", int64(len(m.data.Entries)), accentColor),
		renderStatBox("Eligible", int64(m.data.Eligible), okColor),
		renderStatBox("Filtered", m.data.Counts["filtered"], warnColor),
		renderStatBox("Faults", m.data.Counts["fault"]+int64(m.data.FrameErrors), errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	b.WriteString(MutedStyle.Render(fmt.Sprintf("%-5s %-12s %-10s %-26s %s", "#", "KIND", "EMPLOYEE", "DATE/TIME", "DETAIL")))
	b.WriteString("\n")

	start, end := m.list.window(len(m.data.Entries))
	for i := start; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}

	b.WriteString(helpLine())
	return b.String()
}

func (m ReplayModel) renderRow(i int) string {
	e := m.data.Entries[i]
	detail := e.ContentType
	switch {
	case e.Error != "":
		detail = e.Error
	case e.Filename != "":
		detail = e.Filename
	case e.EventType != "":
		detail = e.EventType
	}
	if m.width > 60 && len(detail) > m.width-60 {
		detail = detail[:m.width-60] + "…"
	}

	kind := StateStyle(e.Kind).Render(fmt.Sprintf("%-12s", e.Kind))
	line := fmt.Sprintf("%-5d %s %-10s %-26s %s", e.Index, kind, e.EmployeeNo, e.DateTime, detail)
	if i == m.list.cursor {
		return SelectedStyle.Render("> ") + line
	}
	return "  " + line
}
