package main

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/swapbot/internal/app"
	"github.com/alanyoungcy/swapbot/internal/config"
)

func runServe(parent context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger.Info("swapbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signalContext(parent)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if !isShutdown(err) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("application shut down gracefully")
	}

	logger.Info("swapbot stopped")
	return nil
}
