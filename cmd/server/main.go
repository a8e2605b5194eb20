package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	webAdapter "factory-procurement/internal/adapters/web"
	"factory-procurement/internal/config"
	"factory-procurement/internal/core"
	"factory-procurement/internal/db"
	"factory-procurement/internal/logging"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	loc, err := cfg.Business.Location()
	if err != nil {
		logger.Fatal("business timezone", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	store := db.NewStore(pool)
	opts := core.Options{Logger: logger.Named("core"), Location: loc}

	handler := webAdapter.NewHandler(webAdapter.Deps{
		Requests:       core.NewRequestService(store, opts),
		LineItems:      core.NewLineItemService(store, opts),
		Directory:      core.NewDirectoryService(store, opts),
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.Server.Origins(),
		Logger:         logger.Named("http"),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
