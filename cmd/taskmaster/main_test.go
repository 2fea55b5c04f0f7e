package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConfigureLogger_Levels(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		logger := configureLogger(&bytes.Buffer{}, tt.in, "text")
		if !logger.Enabled(context.Background(), tt.want) {
			t.Errorf("level %q: %s should be enabled", tt.in, tt.want)
		}
		if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-4) {
			t.Errorf("level %q: %s should be disabled", tt.in, tt.want-4)
		}
	}
}

func TestConfigureLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	configureLogger(&buf, "info", "JSON").Info("ticket sync initialized", "subscribers", 8)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "ticket sync initialized" {
		t.Errorf("msg = %v", rec["msg"])
	}
}

func TestConfigureLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	configureLogger(&buf, "info", "text").Warn("event log disabled")

	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("output = %q", buf.String())
	}
}
