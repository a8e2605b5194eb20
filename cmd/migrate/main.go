// migrate applies the embedded SQL migrations to DATABASE_URL.
//
// Usage: go run ./cmd/migrate
package main

import (
	"context"
	"log"
	"time"

	"factory-procurement/internal/config"
	"factory-procurement/internal/db"
	"factory-procurement/internal/logging"
	"factory-procurement/migrations"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	logger.Info("all migrations processed")
}
