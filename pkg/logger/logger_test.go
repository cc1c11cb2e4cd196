package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	if err := SetupWriter(&buf, "warn", "json"); err != nil {
		t.Fatal(err)
	}
	slog.Info("hidden")
	slog.Warn("Camera busy", "session", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "Camera busy" || rec["session"] != "abc" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestSetupRejectsUnknown(t *testing.T) {
	if err := SetupWriter(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := SetupWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestCronLoggerError(t *testing.T) {
	var buf bytes.Buffer
	l := &CronLogger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	l.Error(errors.New("boom"), "job failed", "entry", 3)

	out := buf.String()
	if !strings.Contains(out, "job failed") || !strings.Contains(out, "error=boom") || !strings.Contains(out, "entry=3") {
		t.Errorf("unexpected output %q", out)
	}
}
