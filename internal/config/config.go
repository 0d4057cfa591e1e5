package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	RunDir    string `toml:"run_dir"`
	MountRoot string `toml:"mount_root"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Mount contains lifecycle timing for attach and detach operations. Durations
// are whole seconds unless the key says otherwise.
type Mount struct {
	AttachTimeout           int  `toml:"attach_timeout"`
	ExtendedTimeout         int  `toml:"extended_timeout"`
	MonitorPollInterval     int  `toml:"monitor_poll_interval"`
	ProgressInterval        int  `toml:"progress_interval"`
	AutoAttachSettleTimeout int  `toml:"auto_attach_settle_timeout"`
	AutoAttachGapMillis     int  `toml:"auto_attach_gap_ms"`
	DetachOnExit            bool `toml:"detach_on_exit"`
	WatchVolumes            bool `toml:"watch_volumes"`
	MetricsRefreshInterval  int  `toml:"metrics_refresh_interval"`
}

// Query contains configuration for the cross-process snapshot protocol.
type Query struct {
	Enabled        bool   `toml:"enabled"`
	Title          string `toml:"title"`
	ConnectTimeout int    `toml:"connect_timeout"`
	ReadTimeout    int    `toml:"read_timeout"`
}

// Notifications configures ntfy alerts for mount failures.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mirrordrive.
//
// Configuration sections by subsystem:
//   - Paths: state, log, runtime and mount directories plus the API bind address
//   - Mount: attach/detach timeouts, monitor polling and auto-attach pacing
//   - Query: the cross-process snapshot responder
//   - Notifications: ntfy alerts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Mount         Mount         `toml:"mount"`
	Query         Query         `toml:"query"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mirrordrive.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The mount root is created on a best-effort basis; attach reports a
// precise error later if it is still missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.RunDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.MountRoot) != "" {
		_ = os.MkdirAll(c.Paths.MountRoot, 0o755)
	}
	return nil
}

// DatabasePath returns the location of the mount registry database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "mounts.db")
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.RunDir, "mirrordrive.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.RunDir, "mirrordrived.lock")
}

// PIDPath returns where the running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.RunDir, "mirrordrived.pid")
}

// AttachTimeout returns the first escalation timeout.
func (c *Config) AttachTimeout() time.Duration {
	return time.Duration(c.Mount.AttachTimeout) * time.Second
}

// ExtendedTimeout returns the second escalation timeout.
func (c *Config) ExtendedTimeout() time.Duration {
	return time.Duration(c.Mount.ExtendedTimeout) * time.Second
}

// MonitorPollInterval returns the external-detach polling cadence.
func (c *Config) MonitorPollInterval() time.Duration {
	return time.Duration(c.Mount.MonitorPollInterval) * time.Second
}

// ProgressInterval returns the cadence of progress ticks during slow operations.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Mount.ProgressInterval) * time.Second
}

// AutoAttachSettleTimeout bounds how long auto-attach waits for one entry to leave Mounting.
func (c *Config) AutoAttachSettleTimeout() time.Duration {
	return time.Duration(c.Mount.AutoAttachSettleTimeout) * time.Second
}

// AutoAttachGap is the pause between consecutive auto-attached entries.
func (c *Config) AutoAttachGap() time.Duration {
	return time.Duration(c.Mount.AutoAttachGapMillis) * time.Millisecond
}

// MetricsRefreshInterval returns how often the daemon republishes entry gauges.
func (c *Config) MetricsRefreshInterval() time.Duration {
	return time.Duration(c.Mount.MetricsRefreshInterval) * time.Second
}

// QueryConnectTimeout returns the responder's dial timeout.
func (c *Config) QueryConnectTimeout() time.Duration {
	return time.Duration(c.Query.ConnectTimeout) * time.Second
}

// QueryReadTimeout returns the requester's payload timeout.
func (c *Config) QueryReadTimeout() time.Duration {
	return time.Duration(c.Query.ReadTimeout) * time.Second
}

// NotificationTimeout bounds a single ntfy publish.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultRunDir() string {
	if base, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "mirrordrive")
	}
	return filepath.Join(defaultStateDir, "run")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
