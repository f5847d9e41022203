package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/helenkilolo/afrovibe/internal/server"
	"github.com/helenkilolo/afrovibe/internal/store"
	"github.com/helenkilolo/afrovibe/pkg/config"
	"github.com/helenkilolo/afrovibe/pkg/logging"
)

func main() {
	bootLogger := logging.New("info")

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Store.DSN, logger)
	if err != nil {
		logger.Error("Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, st)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
