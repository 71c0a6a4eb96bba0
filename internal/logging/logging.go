package logging

import (
	"log/slog"
	"os"
)

// Init installs the process-wide slog logger. The level comes from LOG_LEVEL.
func Init() {
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: LevelFromEnv(),
		}),
	)
	slog.SetDefault(logger)
}

// LevelFromEnv maps LOG_LEVEL onto a slog level.
func LevelFromEnv() slog.Level {
	level := slog.LevelError // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}
	return level
}
