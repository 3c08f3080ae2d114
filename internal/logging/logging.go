// Package logging provides the shared slog logger for Lambda handlers.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a JSON logger writing to stdout. The level is taken from the
// LOG_LEVEL environment variable (debug, info, warn, error); default info.
func New() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
