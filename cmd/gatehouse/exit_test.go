package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

// captureExit swaps osExit and stderr for the duration of the test.
func captureExit(t *testing.T) (*int, *bytes.Buffer) {
	t.Helper()
	code := -1
	var buf bytes.Buffer
	prevExit, prevErr := osExit, stderr
	osExit = func(c int) { code = c }
	stderr = &buf
	t.Cleanup(func() { osExit, stderr = prevExit, prevErr })
	return &code, &buf
}

func TestExitErrHandler_NilError(t *testing.T) {
	code, _ := captureExit(t)
	exitErrHandler(nil, nil)
	if *code != -1 {
		t.Errorf("nil error should not exit, got code %d", *code)
	}
}

func TestExitErrHandler_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"stopped", cli.Exit("", 0), 0, ""},
		{"device lost", cli.Exit("device_lost: backoff exhausted", 1), 1, "device_lost: backoff exhausted"},
		{"config", cli.Exit("invalid configuration", 2), 2, "invalid configuration"},
		{"wrapped", fmt.Errorf("run: %w", cli.Exit("inner", 1)), 1, "inner"},
		{"joined", errors.Join(errors.New("context"), cli.Exit("joined", 2)), 2, "joined"},
		{"plain error", errors.New("flag provided but not defined"), 2, "Error: flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, buf := captureExit(t)
			exitErrHandler(nil, tt.err)

			if *code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", *code, tt.wantCode)
			}
			got := strings.TrimSpace(buf.String())
			if got != tt.wantMsg {
				t.Errorf("stderr = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestExitErrHandler_SuppressesStatusOnlyMessage(t *testing.T) {
	code, buf := captureExit(t)
	exitErrHandler(nil, cli.Exit("", 1))

	if *code != 1 {
		t.Errorf("exit code = %d, want 1", *code)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := map[string]bool{"run": false, "replay": false, "outcomes": false, "pending": false, "version": false}
	for _, c := range app.Commands {
		if _, ok := want[c.Name]; ok {
			want[c.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing command %q", name)
		}
	}
}

func TestApp_RunWithoutDeviceIsConfigError(t *testing.T) {
	code, buf := captureExit(t)
	app := newApp()
	app.Writer = &bytes.Buffer{}

	_ = app.Run([]string{"gatehouse", "run", "--quiet", "--relay-url", "http://relay.invalid/", "--token", "tok"})

	if *code != 2 {
		t.Errorf("exit code = %d, want 2", *code)
	}
	if !strings.Contains(buf.String(), "device.address is required") {
		t.Errorf("stderr should name the missing field, got %q", buf.String())
	}
}
