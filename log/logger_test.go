package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, path, err := New(Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if path != "" {
		t.Errorf("expected no log file, got %q", path)
	}

	logger.Info("dropped", nil)
	logger.Warn("kept", map[string]any{"status": 500})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["message"] != "kept" {
		t.Errorf("message = %v, want kept", lines[0]["message"])
	}
	if lines[0]["level"] != "warn" {
		t.Errorf("level = %v, want warn", lines[0]["level"])
	}
	fields, ok := lines[0]["fields"].(map[string]any)
	if !ok || fields["status"] != float64(500) {
		t.Errorf("fields = %v, want status=500", lines[0]["fields"])
	}
}

func TestNew_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Output: &buf, Fields: map[string]any{"device": "10.0.0.115"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.With(map[string]any{"component": "session"}).Info("connected", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["device"] != "10.0.0.115" {
		t.Errorf("device = %v", lines[0]["device"])
	}
	if lines[0]["component"] != "session" {
		t.Errorf("component = %v", lines[0]["component"])
	}
}

func TestNew_DatedLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	now := func() time.Time { return time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC) }

	logger, path, err := New(Options{Output: &buf, Dir: dir, Now: now})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := filepath.Join(dir, "log_2024-05-06_07-08.log")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	logger.Info("starting new cycle", nil)
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "starting new cycle") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNilLogger_IsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	logger.With(map[string]any{"k": "v"}).Error("ignored", nil)
	logger.Sugar().Infof("ignored %d", 1)
}
