// Package main provides the gatehouse CLI entrypoint.
//
// Usage:
//
//	gatehouse <command> [options]
//
// Exit codes:
//   - 0: stopped normally (signal or lock file)
//   - 1: runtime fatal (device lost, reconnects exhausted)
//   - 2: configuration or argument error
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gatehouse/cli/cmd"
	"github.com/pithecene-io/gatehouse/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

// Overridden in tests.
var (
	osExit            = os.Exit
	stderr  io.Writer = os.Stderr
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// Flag parse errors never reach ExitErrHandler.
		osExit(2)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "gatehouse",
		Usage:          "Relay access-control alert stream events to a downstream API",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.ReplayCommand(),
			cmd.OutcomesCommand(),
			cmd.PendingCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit, including wrapped ones.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() is "exit status N"; don't print that.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		osExit(code)
		return
	}

	// Usage errors and anything unwrapped.
	fmt.Fprintf(stderr, "Error: %v\n", err)
	osExit(2)
}
