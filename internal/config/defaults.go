package config

const (
	defaultConfigPath              = "~/.config/mirrordrive/config.toml"
	defaultStateDir                = "~/.local/share/mirrordrive"
	defaultLogDir                  = "~/.local/share/mirrordrive/logs"
	defaultMountRoot               = "~/MirrorDrives"
	defaultAPIBind                 = "127.0.0.1:7493"
	defaultAttachTimeout           = 10
	defaultExtendedTimeout         = 30
	defaultMonitorPollInterval     = 2
	defaultProgressInterval        = 1
	defaultAutoAttachSettleTimeout = 10
	defaultAutoAttachGapMillis     = 500
	defaultMetricsRefreshInterval  = 15
	defaultQueryTitle              = "Mirror Drive Manager"
	defaultQueryConnectTimeout     = 5
	defaultQueryReadTimeout        = 10
	defaultNotifyTimeout           = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			RunDir:    defaultRunDir(),
			MountRoot: defaultMountRoot,
			APIBind:   defaultAPIBind,
		},
		Mount: Mount{
			AttachTimeout:           defaultAttachTimeout,
			ExtendedTimeout:         defaultExtendedTimeout,
			MonitorPollInterval:     defaultMonitorPollInterval,
			ProgressInterval:        defaultProgressInterval,
			AutoAttachSettleTimeout: defaultAutoAttachSettleTimeout,
			AutoAttachGapMillis:     defaultAutoAttachGapMillis,
			DetachOnExit:            true,
			WatchVolumes:            true,
			MetricsRefreshInterval:  defaultMetricsRefreshInterval,
		},
		Query: Query{
			Enabled:        true,
			Title:          defaultQueryTitle,
			ConnectTimeout: defaultQueryConnectTimeout,
			ReadTimeout:    defaultQueryReadTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
