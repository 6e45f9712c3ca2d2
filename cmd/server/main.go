package main

import (
	"log/slog"
	"os"

	"drive-relay/internal/app"
	"drive-relay/internal/config"
	"drive-relay/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logHandler := logger.NewPrettyHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	if cfg.LogRedactSenders {
		logHandler = logHandler.WithRedaction(logger.SenderKeys...)
	}
	slog.SetDefault(slog.New(logHandler))

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}
