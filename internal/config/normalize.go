package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMount()
	c.normalizeQuery()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RunDir) == "" {
		c.Paths.RunDir = defaultRunDir()
	}
	if c.Paths.RunDir, err = expandPath(c.Paths.RunDir); err != nil {
		return fmt.Errorf("paths.run_dir: %w", err)
	}
	if value, ok := os.LookupEnv("MIRRORDRIVE_MOUNT_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Paths.MountRoot = value
	}
	if strings.TrimSpace(c.Paths.MountRoot) == "" {
		c.Paths.MountRoot = defaultMountRoot
	}
	if c.Paths.MountRoot, err = expandPath(c.Paths.MountRoot); err != nil {
		return fmt.Errorf("paths.mount_root: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeMount() {
	if c.Mount.AttachTimeout == 0 {
		c.Mount.AttachTimeout = defaultAttachTimeout
	}
	if c.Mount.ExtendedTimeout == 0 {
		c.Mount.ExtendedTimeout = defaultExtendedTimeout
	}
	if c.Mount.MonitorPollInterval == 0 {
		c.Mount.MonitorPollInterval = defaultMonitorPollInterval
	}
	if c.Mount.ProgressInterval == 0 {
		c.Mount.ProgressInterval = defaultProgressInterval
	}
	if c.Mount.AutoAttachSettleTimeout == 0 {
		c.Mount.AutoAttachSettleTimeout = defaultAutoAttachSettleTimeout
	}
	if c.Mount.MetricsRefreshInterval == 0 {
		c.Mount.MetricsRefreshInterval = defaultMetricsRefreshInterval
	}
}

func (c *Config) normalizeQuery() {
	c.Query.Title = strings.TrimSpace(c.Query.Title)
	if c.Query.Title == "" {
		c.Query.Title = defaultQueryTitle
	}
	if c.Query.ConnectTimeout == 0 {
		c.Query.ConnectTimeout = defaultQueryConnectTimeout
	}
	if c.Query.ReadTimeout == 0 {
		c.Query.ReadTimeout = defaultQueryReadTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
