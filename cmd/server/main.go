package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/storefront/internal/app"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting storefront service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("store_backend", cfg.StoreBackend),
		slog.Bool("kafka_enabled", cfg.KafkaEnabled),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	// Canceled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("run application: %w", err)
	}

	log.Info("storefront service stopped")
	return nil
}
