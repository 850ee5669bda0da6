package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/gatehouse/lode"
)

// OutcomesModel shows journaled delivery outcomes.
type OutcomesModel struct {
	records  []lode.OutcomeRecord
	counts   map[string]int64
	valid    bool
	list     listState
	quitting bool
}

// NewOutcomesModel creates an outcomes model. data must be []lode.OutcomeRecord.
func NewOutcomesModel(data any) OutcomesModel {
	records, ok := data.([]lode.OutcomeRecord)
	counts := map[string]int64{}
	for _, r := range records {
		counts[r.Outcome]++
	}
	return OutcomesModel{records: records, counts: counts, valid: ok, list: listState{height: 10}}
}

// Init implements tea.Model.
func (m OutcomesModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m OutcomesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.height = msg.Height - chromeLines
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		m.list.move(msg, len(m.records))
	}
	return m, nil
}

// View implements tea.Model.
func (m OutcomesModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.valid {
		return "Invalid data type for outcomes"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Delivery Outcomes"))
	b.WriteString("\n")

	boxes := []string{
		renderStatBox("Delivered", m.counts["delivered"], okColor),
		renderStatBox("Rejected", m.counts["rejected"], errorColor),
		renderStatBox("Exhausted", m.counts["exhausted"], errorColor),
		renderStatBox("Abandoned", m.counts["abandoned"], warnColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	b.WriteString(MutedStyle.Render(fmt.Sprintf("%-31s %-10s %-10s %-4s %s", "FINISHED", "OUTCOME", "EMPLOYEE", "TRY", "STATUS/ERROR")))
	b.WriteString("\n")

	start, end := m.list.window(len(m.records))
	for i := start; i < end; i++ {
		r := m.records[i]
		detail := ""
		if r.Status != 0 {
			detail = fmt.Sprintf("%d", r.Status)
		}
		if r.Error != "" {
			detail = strings.TrimSpace(detail + " " + r.Error)
		}
		outcome := StateStyle(r.Outcome).Render(fmt.Sprintf("%-10s", r.Outcome))
		line := fmt.Sprintf("%-31s %s %-10s %-4d %s", r.FinishedAt, outcome, r.EmployeeNo, r.Attempts, detail)
		if i == m.list.cursor {
			b.WriteString(SelectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString(helpLine())
	return b.String()
}
