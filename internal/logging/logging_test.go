package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("scheduler", slog.LevelInfo, "text", &buf)

	logger.Info("lease acquired", "worker_id", "w-1")

	output := buf.String()
	if !strings.Contains(output, "lease acquired") {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, "service=scheduler") {
		t.Errorf("expected service attribute in output, got: %s", output)
	}
	if !strings.Contains(output, "worker_id=w-1") {
		t.Errorf("expected worker_id in output, got: %s", output)
	}
}

func TestNewLoggerWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("validator", slog.LevelInfo, "JSON", &buf)

	logger.Info("result validated", "id", "res_1")

	output := buf.String()
	if !strings.Contains(output, `"msg":"result validated"`) {
		t.Errorf("expected JSON msg field in output, got: %s", output)
	}
	if !strings.Contains(output, `"service":"validator"`) {
		t.Errorf("expected JSON service field in output, got: %s", output)
	}
}

func TestNewLoggerWithWriter_NoService(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("", slog.LevelInfo, "text", &buf).Info("hello")

	if strings.Contains(buf.String(), "service=") {
		t.Errorf("unexpected service attribute: %s", buf.String())
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("worker", slog.LevelWarn, "text", &buf)

	logger.Info("should not appear")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Errorf("INFO message should be filtered at WARN level, got: %s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("WARN message should appear at WARN level, got: %s", output)
	}
}

func TestNewLoggerWithWriter_ChildLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("server", slog.LevelDebug, "text", &buf)
	child := logger.With("component", "scheduler")

	child.Debug("tick", "id", "wi_abc")

	output := buf.String()
	if !strings.Contains(output, "component=scheduler") {
		t.Errorf("expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "id=wi_abc") {
		t.Errorf("expected id in output, got: %s", output)
	}
}

func TestDiscard(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should not be enabled at ERROR")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
