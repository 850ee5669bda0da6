// Package render prints command results for people and for scripts.
//
// --format picks json, table or yaml. Left unset, stdout on a terminal
// gets a table and a pipe gets json. --no-color is carried for the TUI;
// the printed formats never contain escape codes.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/gatehouse/cli/tui"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var formats = []Format{FormatJSON, FormatTable, FormatYAML}

// ParseFormat matches s case-insensitively. Empty returns "" so the
// caller can pick by terminal.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	for _, f := range formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q: use json, table, or yaml", s)
}

// Renderer prints one value per call in a fixed format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color from c and writes to the
// app's Writer, falling back to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = FormatTable
		}
	}

	out := io.Writer(os.Stdout)
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter builds a renderer without a cli.Context.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

func (r *Renderer) Format() Format { return r.format }

func (r *Renderer) NoColor() bool { return r.noColor }

// Render prints data.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return buildTable(data).write(r.out)
	}
	return fmt.Errorf("unknown output format %q", r.format)
}

// RenderTUI hands data to the interactive view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}
