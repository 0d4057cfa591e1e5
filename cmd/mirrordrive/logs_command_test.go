package main

import (
	"os"
	"path/filepath"
	"testing"

	"mirrordrive/internal/ipc"
	"mirrordrive/internal/logs"
)

func TestLogsCommandPrintsTail(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := filepath.Join(env.cfg.Paths.LogDir, logs.CurrentName)
	if err := os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected logs output %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "0"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs all: %v", err)
	}
	if out != "one\ntwo\nthree\n" {
		t.Fatalf("unexpected full logs output %q", out)
	}
}

func TestLogsCommandEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"logs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries available")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")

	out, _, err = runCLI(t, []string{"test-notify", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("test-notify --json: %v", err)
	}
	requireContains(t, out, `"sent": false`)
}

func TestNotifyOutcome(t *testing.T) {
	if got := notifyOutcome(ipc.TestNotificationResponse{Sent: true, Message: "ignored"}); got != "Test notification sent" {
		t.Fatalf("unexpected outcome %q", got)
	}
	if got := notifyOutcome(ipc.TestNotificationResponse{}); got != "Notification not sent" {
		t.Fatalf("unexpected outcome %q", got)
	}
}
