package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMount(); err != nil {
		return err
	}
	if err := c.validateQuery(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.MountRoot == "" {
		return errors.New("paths.mount_root must be set")
	}
	if c.Paths.RunDir == "" {
		return errors.New("paths.run_dir must be set")
	}
	if c.Paths.APIBind != "" {
		if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
			return fmt.Errorf("paths.api_bind: %w", err)
		}
	}
	return nil
}

func (c *Config) validateMount() error {
	if err := ensurePositiveMap(map[string]int{
		"mount.attach_timeout":             c.Mount.AttachTimeout,
		"mount.extended_timeout":           c.Mount.ExtendedTimeout,
		"mount.monitor_poll_interval":      c.Mount.MonitorPollInterval,
		"mount.progress_interval":          c.Mount.ProgressInterval,
		"mount.auto_attach_settle_timeout": c.Mount.AutoAttachSettleTimeout,
		"mount.metrics_refresh_interval":   c.Mount.MetricsRefreshInterval,
	}); err != nil {
		return err
	}
	if c.Mount.AutoAttachGapMillis < 0 {
		return errors.New("mount.auto_attach_gap_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateQuery() error {
	if !c.Query.Enabled {
		return nil
	}
	return ensurePositiveMap(map[string]int{
		"query.connect_timeout": c.Query.ConnectTimeout,
		"query.read_timeout":    c.Query.ReadTimeout,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", c.Notifications.NtfyTopic)
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
