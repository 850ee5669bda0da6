// Package cmd provides the gatehouse CLI commands.
package cmd

import (
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/pithecene-io/gatehouse/log"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (replay, outcomes only)",
	}

	// ConfigFlag points at a gatehouse.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to gatehouse.yaml (flags override file values)",
		EnvVars: []string{"GATEHOUSE_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// --tui is always accepted so that unsupported commands can reject it
// with a clear message instead of "flag provided but not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// isStderrTTY returns true if stderr is a terminal.
func isStderrTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// noticeLogger returns a warn-level logger on the app's error writer for
// read-only commands.
func noticeLogger(c *cli.Context) *log.SugaredLogger {
	var w io.Writer = os.Stderr
	if c.App != nil && c.App.ErrWriter != nil {
		w = c.App.ErrWriter
	}
	logger, _, err := log.New(log.Options{Level: "warn", Output: w})
	if err != nil {
		return log.Nop().Sugar()
	}
	return logger.Sugar()
}
