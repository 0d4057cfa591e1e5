package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"mirrordrive/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("MIRRORDRIVE_MOUNT_ROOT", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "mirrordrive")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.RunDir != filepath.Join(wantState, "run") {
		t.Fatalf("unexpected run dir: %q", cfg.Paths.RunDir)
	}
	if cfg.Paths.MountRoot != filepath.Join(tempHome, "MirrorDrives") {
		t.Fatalf("unexpected mount root: %q", cfg.Paths.MountRoot)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7493" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.AttachTimeout() != 10*time.Second {
		t.Fatalf("unexpected attach timeout: %s", cfg.AttachTimeout())
	}
	if cfg.ExtendedTimeout() != 30*time.Second {
		t.Fatalf("unexpected extended timeout: %s", cfg.ExtendedTimeout())
	}
	if cfg.MonitorPollInterval() != 2*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.MonitorPollInterval())
	}
	if cfg.AutoAttachGap() != 500*time.Millisecond {
		t.Fatalf("unexpected auto-attach gap: %s", cfg.AutoAttachGap())
	}
	if !cfg.Query.Enabled || cfg.Query.Title != "Mirror Drive Manager" {
		t.Fatalf("unexpected query defaults: %+v", cfg.Query)
	}
	if cfg.QueryConnectTimeout() != 5*time.Second || cfg.QueryReadTimeout() != 10*time.Second {
		t.Fatalf("unexpected query timeouts: %+v", cfg.Query)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadRuntimeDirFromEnvironment(t *testing.T) {
	tempHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.RunDir != filepath.Join(runtimeDir, "mirrordrive") {
		t.Fatalf("unexpected run dir: %q", cfg.Paths.RunDir)
	}
	if cfg.SocketPath() != filepath.Join(runtimeDir, "mirrordrive", "mirrordrive.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
}

func TestLoadMountRootEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	t.Setenv("MIRRORDRIVE_MOUNT_ROOT", root)

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.MountRoot != root {
		t.Fatalf("expected mount root from env, got %q", cfg.Paths.MountRoot)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MIRRORDRIVE_MOUNT_ROOT", "")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"state_dir":  "~/state",
			"mount_root": "~/drives",
			"api_bind":   "",
		},
		"mount": map[string]any{
			"attach_timeout":     3,
			"extended_timeout":   7,
			"auto_attach_gap_ms": 0,
			"detach_on_exit":     false,
		},
		"query": map[string]any{
			"title": "  Custom Title ",
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "DEBUG",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Paths.MountRoot != filepath.Join(tempHome, "drives") {
		t.Fatalf("unexpected mount root: %q", cfg.Paths.MountRoot)
	}
	if cfg.Paths.APIBind != "" {
		t.Fatalf("expected API disabled, got %q", cfg.Paths.APIBind)
	}
	if cfg.AttachTimeout() != 3*time.Second || cfg.ExtendedTimeout() != 7*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.Mount)
	}
	if cfg.AutoAttachGap() != 0 {
		t.Fatalf("expected zero gap, got %s", cfg.AutoAttachGap())
	}
	if cfg.Mount.DetachOnExit {
		t.Fatal("expected detach_on_exit=false")
	}
	if cfg.Query.Title != "Custom Title" {
		t.Fatalf("expected trimmed title, got %q", cfg.Query.Title)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"negative attach timeout", func(c *config.Config) { c.Mount.AttachTimeout = -1 }, "mount.attach_timeout"},
		{"negative gap", func(c *config.Config) { c.Mount.AutoAttachGapMillis = -5 }, "mount.auto_attach_gap_ms"},
		{"bad bind", func(c *config.Config) { c.Paths.APIBind = "nope" }, "paths.api_bind"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"empty mount root", func(c *config.Config) { c.Paths.MountRoot = "" }, "paths.mount_root"},
		{"query timeout", func(c *config.Config) { c.Query.ReadTimeout = -1 }, "query.read_timeout"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "my-topic" }, "notifications.ntfy_topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Mount.AttachTimeout != 10 || cfg.Mount.ExtendedTimeout != 30 {
		t.Fatalf("sample config drifted from defaults: %+v", cfg.Mount)
	}
}

func TestEnsureDirectoriesCreatesRunDir(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.RunDir = filepath.Join(base, "run")
	cfg.Paths.MountRoot = filepath.Join(base, "drives")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.RunDir, cfg.Paths.MountRoot} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
