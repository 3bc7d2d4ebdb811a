package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/pkg/config"
	"github.com/noah-isme/release-distribution-api/pkg/database"
	"github.com/noah-isme/release-distribution-api/pkg/logger"
	"github.com/noah-isme/release-distribution-api/pkg/migrate"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logg.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	runner, err := migrate.New(db.DB, cfg.MigrationsDir, logg.Named("migrate"))
	if err != nil {
		logg.Fatal("failed to configure migration runner", zap.Error(err))
	}

	switch *command {
	case "up":
		err = runner.Up(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		logg.Fatal("unsupported command", zap.String("command", *command))
	}
	if err != nil {
		logg.Fatal("migration command failed", zap.String("command", *command), zap.Error(err))
	}

	logg.Info("migration command completed", zap.String("command", *command))
}
