package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mirrordrive/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The run directory lives under a short os.MkdirTemp path so socket paths stay
// within the unix limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runDir, err := os.MkdirTemp("", "mdrun")
	if err != nil {
		t.Fatalf("create run dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(runDir) })

	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RunDir = runDir
	cfgVal.Paths.MountRoot = filepath.Join(base, "drives")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Mount.WatchVolumes = false
	cfgVal.Mount.AutoAttachGapMillis = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithoutQuery disables the snapshot responder.
func WithoutQuery() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Query.Enabled = false
	}
}

// WithAPIBind overrides the HTTP bind address; "" disables the API.
func WithAPIBind(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIBind = addr
	}
}

// WithDetachOnExit toggles detaching every drive at shutdown.
func WithDetachOnExit(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Mount.DetachOnExit = enabled
	}
}

// SourceDir creates and returns a source directory under the test base dir.
func SourceDir(t testing.TB, cfg *config.Config, name string) string {
	t.Helper()
	dir := filepath.Join(BaseDir(cfg), "sources", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir source %s: %v", name, err)
	}
	return dir
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf(format, args...)
	}
}
