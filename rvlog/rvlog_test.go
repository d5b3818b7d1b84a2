package rvlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger_ModuleAttribute(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	l := NewWithHandler(h).Module("cpu")
	l.Info("stepped", "pc", 4)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if rec["module"] != "cpu" {
		t.Errorf("module attribute = %v, want cpu", rec["module"])
	}
	if rec["pc"] != float64(4) {
		t.Errorf("pc attribute = %v, want 4", rec["pc"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	l := NewWithHandler(h)
	l.Debug("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("debug message logged at Warn level: %q", buf.String())
	}
	l.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("warn message missing from output: %q", buf.String())
	}
}

func TestSetDefault(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	custom := NewWithHandler(slog.NewJSONHandler(&buf, nil))
	SetDefault(custom)
	Info("via package function")
	if !strings.Contains(buf.String(), "via package function") {
		t.Errorf("package-level Info did not use the replaced default logger")
	}
}
