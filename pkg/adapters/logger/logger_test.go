package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/user/detectshow/pkg/ports"
)

func TestConsoleLogger_LevelsAndStreams(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewConsoleWriters(ports.LevelInfo, &out, &errOut)

	l.Debug("hidden")
	l.Info("Processing %d samples", 3)
	l.Warn("careful")

	if strings.Contains(out.String(), "hidden") {
		t.Errorf("debug message should be filtered, got %q", out.String())
	}
	if !strings.Contains(out.String(), "Processing 3 samples") {
		t.Errorf("expected info on stdout, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "careful") {
		t.Errorf("expected warning on stderr, got %q", errOut.String())
	}
}

func TestConsoleLogger_ComponentAndFields(t *testing.T) {
	var out bytes.Buffer
	l := NewConsoleWriters(ports.LevelDebug, &out, &out)

	l.WithComponent("decoder").WithField("track", 1).WithField("codec", "avc").Info("opened")

	line := strings.TrimSpace(out.String())
	want := "[decoder] opened codec=avc track=1"
	if line != want {
		t.Errorf("expected %q, got %q", want, line)
	}
}

func TestConsoleLogger_WithFieldDoesNotLeak(t *testing.T) {
	var out bytes.Buffer
	base := NewConsoleWriters(ports.LevelDebug, &out, &out)
	_ = base.WithField("k", "v")

	base.Info("plain")
	if strings.Contains(out.String(), "k=v") {
		t.Errorf("field leaked into parent logger: %q", out.String())
	}
}

func TestStructuredLogger_JSON(t *testing.T) {
	var out bytes.Buffer
	l := NewStructured(ports.LevelInfo, &out, true)

	l.WithComponent("encoder").WithField("frame", 7).Info("Wrote %d bytes", 42)
	l.Debug("dropped")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 entry, got %d: %q", len(lines), out.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	if entry["msg"] != "Wrote 42 bytes" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["component"] != "encoder" {
		t.Errorf("unexpected component %v", entry["component"])
	}
	if entry["frame"] != float64(7) {
		t.Errorf("unexpected frame %v", entry["frame"])
	}
	if entry["level"] != "info" {
		t.Errorf("unexpected level %v", entry["level"])
	}
}

func TestStructuredLogger_Quiet(t *testing.T) {
	var out bytes.Buffer
	l := NewStructured(ports.LevelQuiet, &out, false)
	l.Error("boom")
	if out.Len() != 0 {
		t.Errorf("quiet logger wrote %q", out.String())
	}
}
