package main

import (
	"os"
	"path/filepath"
	"strings"

	"mirrordrive/internal/config"
)

// configPathFromEnv lets service managers point the daemon at a config file
// without flags.
func configPathFromEnv() string {
	return strings.TrimSpace(os.Getenv("MIRRORDRIVE_CONFIG"))
}

func buildSocketPath(cfg *config.Config) string {
	if cfg == nil {
		return filepath.Join("", "mirrordrive.sock")
	}
	return cfg.SocketPath()
}
