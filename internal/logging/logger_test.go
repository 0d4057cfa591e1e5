package logging_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mirrordrive/internal/config"
	"mirrordrive/internal/logging"
)

func newFileLogger(t *testing.T, format, level string) (*slog.Logger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := logging.New(logging.Options{
		Format:           format,
		Level:            level,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewRunWritesPerRunFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	logger, path, err := logging.NewRun(&cfg, logging.RunOptions{Level: "debug", Started: started})
	if err != nil {
		t.Fatalf("NewRun returned error: %v", err)
	}
	if want := filepath.Join(cfg.Paths.LogDir, "mirrordrive-20260304T050607.000Z.log"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	logger.Debug("hello")
	if content := readLog(t, path); !strings.Contains(content, "hello") {
		t.Fatalf("expected debug message in run log, got %q", content)
	}
}

func TestNewRunRejectsUnknownFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "xml"
	if _, _, err := logging.NewRun(&cfg, logging.RunOptions{}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logger, path := newFileLogger(t, "console", "info")
	logger.Info("message without caller")
	if content := readLog(t, path); strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logger, path := newFileLogger(t, "console", "debug")
	logger.Debug("message with caller")
	if content := readLog(t, path); !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndTarget(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "coordinator")
	logger.Info("attach completed", logging.String(logging.FieldTarget, `Z:\`), logging.String("source", "/srv/data dir"))

	content := readLog(t, logPath)
	if !strings.Contains(content, `INFO coordinator: [Z:\] attach completed`) {
		t.Fatalf("unexpected console layout: %q", content)
	}
	if !strings.Contains(content, `source="/srv/data dir"`) {
		t.Fatalf("expected quoted source value, got %q", content)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithCorrelationID(logging.WithEntry(context.Background(), "entry-1"), "req-9")
	logging.WithContext(ctx, logger).Info("json message")

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload["msg"] != "json message" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload[logging.FieldEntryID] != "entry-1" || payload[logging.FieldCorrelationID] != "req-9" {
		t.Fatalf("expected context fields, got %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "persist failed", "persist_failed", logging.String(logging.FieldErrorHint, "check disk space"))

	content := readLog(t, logPath)
	for _, want := range []string{`"event_type":"persist_failed"`, `"error_hint":"check disk space"`, `"impact":`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %s in %q", want, content)
		}
	}
}

func TestNoopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("expected noop logger to be disabled")
	}
	logger.Error("ignored")
}

func TestEntryArgsOmitsEmptyTarget(t *testing.T) {
	if got := logging.EntryArgs("abc", ""); len(got) != 1 {
		t.Fatalf("expected only entry id, got %v", got)
	}
	got := logging.EntryArgs("abc", `Z:\`)
	if len(got) != 2 {
		t.Fatalf("expected entry id and target, got %v", got)
	}
	if attr, ok := got[1].(logging.Attr); !ok || attr.Key != logging.FieldTarget || attr.Value.String() != `Z:\` {
		t.Fatalf("unexpected target attr %v", got[1])
	}
}
