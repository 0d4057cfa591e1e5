// Package config loads, normalizes, and validates mirrordrive configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MIRRORDRIVE_MOUNT_ROOT and XDG_RUNTIME_DIR. The Config type centralizes the
// timing knobs of the mount coordinator, the location of the registry
// database, and the sockets the daemon listens on.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and durations instead of raw integers.
package config
