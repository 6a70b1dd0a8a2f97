package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, level string) *Logger {
	return New(Config{
		Level:       level,
		Format:      "json",
		Output:      buf,
		ServiceName: "test-service",
	})
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, "debug")

	log.Info("render submitted", "batch", "b1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}

	if entry["msg"] != "render submitted" {
		t.Errorf("expected msg='render submitted', got %v", entry["msg"])
	}
	if entry["batch"] != "b1" {
		t.Errorf("expected batch='b1', got %v", entry["batch"])
	}
	if entry["service"] != "test-service" {
		t.Errorf("expected service='test-service', got %v", entry["service"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	log.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got: %s", buf.String())
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(*Logger)
		shouldLog bool
	}{
		{"info level logs info", "info", func(l *Logger) { l.Info("x") }, true},
		{"info level drops debug", "info", func(l *Logger) { l.Debug("x") }, false},
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug("x") }, true},
		{"error level drops warn", "error", func(l *Logger) { l.Warn("x") }, false},
		{"error level logs error", "error", func(l *Logger) { l.Error("x") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFn(newBufferLogger(&buf, tt.level))

			if got := buf.Len() > 0; got != tt.shouldLog {
				t.Errorf("expected shouldLog=%v, got %v", tt.shouldLog, got)
			}
		})
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, "info")

	log.WithComponent("pipeline").
		WithRunID("run-1").
		WithProjectID("proj-1").
		WithRequestID("req-1").
		Info("tick")

	out := buf.String()
	for _, want := range []string{`"component":"pipeline"`, `"run_id":"run-1"`, `"project_id":"proj-1"`, `"request_id":"req-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %s, got: %s", want, out)
		}
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, "info")

	if log.WithError(nil) != log {
		t.Error("WithError(nil) should return same logger")
	}

	log.WithError(context.DeadlineExceeded).Info("poll")
	if !strings.Contains(buf.String(), "deadline exceeded") {
		t.Errorf("expected output to contain error, got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, "info")

	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-abc")
	ctx = ContextWithProjectID(ctx, "proj-xyz")
	ctx = ContextWithRunID(ctx, "run-123")
	ctx = ContextWithJobID(ctx, "job-9")

	log.FromContext(ctx).Info("test message")

	out := buf.String()
	for _, want := range []string{"req-abc", "proj-xyz", "run-123", `"job_id":"job-9"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input).String(); got != tt.expected {
				t.Errorf("parseLevel(%q) = %s, expected %s", tt.input, got, tt.expected)
			}
		})
	}
}
