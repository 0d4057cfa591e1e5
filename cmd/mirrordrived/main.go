package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mirrordrive/internal/config"
	"mirrordrive/internal/daemonrun"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(configPathFromEnv())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{
		LogLevel:   os.Getenv("MIRRORDRIVE_LOG_LEVEL"),
		SocketPath: buildSocketPath(cfg),
	}); err != nil {
		log.Fatalf("mirrordrived: %v", err)
	}
}
