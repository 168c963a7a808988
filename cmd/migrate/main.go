package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/splax/confvault/internal/app/migrate"
	"github.com/splax/confvault/internal/app/store"
	"github.com/splax/confvault/pkg/config"
	"github.com/splax/confvault/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg, err := config.LoadAPIConfig()
	log := logger.NewWithFormat("migrate", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	handle, err := store.Open(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer handle.Close()

	runner, err := migrate.New(handle.SQL, handle.Driver, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
