package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mirrordrive/internal/ipc"
	"mirrordrive/internal/testsupport"
)

func TestMountCommandLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)
	source := testsupport.SourceDir(t, env.cfg, "docs")

	out, _, err := runCLI(t, []string{"add", source, "--drive", "z", "--read-only"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, `Added mapping 1:`)
	requireContains(t, out, `Z:\`)

	out, _, err = runCLI(t, []string{"list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, `Z:\`)
	requireContains(t, out, "Unmounted")
	requireContains(t, out, "read-only")

	out, _, err = runCLI(t, []string{"attach", "z", "--wait"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	requireContains(t, out, `Z:\: Mounted`)
	if !env.driver.Active(`Z:\`) {
		t.Fatal("expected driver session for Z")
	}

	out, _, err = runCLI(t, []string{"show", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "[OK] Mounted")
	requireContains(t, out, source)

	if _, _, err := runCLI(t, []string{"remove", "1"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected remove of a mounted mapping to fail")
	}

	out, _, err = runCLI(t, []string{"detach", "1", "--wait", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	var result ipc.OperationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode detach json: %v", err)
	}
	if result.Entry.Status != "Unmounted" || result.Backgrounded {
		t.Fatalf("unexpected detach result %+v", result)
	}

	out, _, err = runCLI(t, []string{"set", "1", "--auto-attach", "--read-only=false"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	requireContains(t, out, "read-only: no, auto-attach: yes")

	out, _, err = runCLI(t, []string{"remove", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	requireContains(t, out, "Removed mapping")

	out, _, err = runCLI(t, []string{"list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	requireContains(t, out, "No mappings configured")
}

func TestMountCommandErrors(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"attach", "q"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "entry not found") {
		t.Fatalf("expected entry not found, got %v", err)
	}
	_, _, err = runCLI(t, []string{"set", "1"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "nothing to change") {
		t.Fatalf("expected nothing to change, got %v", err)
	}
	missing := filepath.Join(testsupport.BaseDir(env.cfg), "absent")
	if _, _, err := runCLI(t, []string{"add", missing}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected add of a missing source to fail")
	}
	_, _, err = runCLI(t, []string{"list"}, filepath.Join(testsupport.BaseDir(env.cfg), "none.sock"), env.configPath)
	if err == nil || !strings.Contains(err.Error(), "mirrordrive start") {
		t.Fatalf("expected dial hint, got %v", err)
	}
}

func TestImportAndQueryCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	source := testsupport.SourceDir(t, env.cfg, "legacy")
	legacy := filepath.Join(testsupport.BaseDir(env.cfg), "mounts.json")
	payload := `[{"SourcePath":"` + source + `","DestinationLetter":"K:","AutoMount":false,"IsReadOnly":true}]`
	if err := os.WriteFile(legacy, []byte(payload), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	out, _, err := runCLI(t, []string{"import", legacy}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	requireContains(t, out, "Imported 1 mapping(s)")

	if _, _, err := runCLI(t, []string{"attach", "k", "--wait"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("attach: %v", err)
	}

	out, _, err = runCLI(t, []string{"query"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	requireContains(t, out, `K:\`)
	requireContains(t, out, "Mounted")
	requireContains(t, out, "read-only")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	source := testsupport.SourceDir(t, env.cfg, "docs")
	if _, _, err := runCLI(t, []string{"add", source, "-d", "Y"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "[OK] Running")
	requireContains(t, out, "Mappings")
	requireContains(t, out, "Unmounted")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var snapshot struct {
		Status ipc.StatusResponse `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &snapshot); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !snapshot.Status.Running || snapshot.Status.EntryCounts["Unmounted"] != 1 {
		t.Fatalf("unexpected status %+v", snapshot.Status)
	}
}
