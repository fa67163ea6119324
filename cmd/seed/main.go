// Command seed upserts the bootstrap developer and superadmin accounts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"backoffice/internal/admin/seed"
	adminstore "backoffice/internal/admin/store"
	"backoffice/internal/platform/config"
	"backoffice/internal/platform/database"
	"backoffice/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	admins := adminstore.New(db)
	if err := admins.Migrate(ctx); err != nil {
		return err
	}

	return seed.New(admins, cfg.Seed, cfg.Production(), log).Run(ctx)
}
