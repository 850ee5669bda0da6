package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// BannerInfo is what the startup banner shows.
type BannerInfo struct {
	Version string
	Device  string
	Relay   string
	Session string
	// Extras are additional label/value rows, in order.
	Extras [][2]string
}

var bannerWordmark = []string{
	"┏━╸┏━┓╺┳╸┏━╸╻ ╻┏━┓╻ ╻┏━┓┏━╸",
	"┃╺┓┣━┫ ┃ ┣╸ ┣━┫┃ ┃┃ ┃┗━┓┣╸ ",
	"┗━┛╹ ╹ ╹ ┗━╸╹ ╹┗━┛┗━┛┗━┛┗━╸",
}

// Banner renders the startup banner. noColor strips styling.
func Banner(info BannerInfo, noColor bool) string {
	title := TitleStyle.MarginBottom(0)
	label := LabelStyle
	value := ValueStyle
	box := BoxStyle.Padding(0, 2)
	if noColor {
		title = lipgloss.NewStyle()
		label = lipgloss.NewStyle().Width(16)
		value = lipgloss.NewStyle()
		box = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 2)
	}

	rows := [][2]string{
		{"Version", info.Version},
		{"Device", info.Device},
		{"Relay", info.Relay},
		{"Session", info.Session},
	}
	rows = append(rows, info.Extras...)

	var b strings.Builder
	b.WriteString(title.Render(strings.Join(bannerWordmark, "\n")))
	b.WriteString("\n\n")
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", label.Render(r[0]+":"), value.Render(r[1]))
	}
	return box.Render(strings.TrimRight(b.String(), "\n"))
}
