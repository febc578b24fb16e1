package config

import (
	"io"
	"log/slog"
	"os"
)

// LogOutput is where NewLogger writes. stdout is reserved for rendered results.
var LogOutput io.Writer = os.Stderr

func NewLogger(env string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		AddSource: env == "development",
	}

	switch env {
	case "production":
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(LogOutput, opts)
	case "development":
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(LogOutput, opts)
	default:
		opts.Level = slog.LevelWarn
		handler = slog.NewTextHandler(LogOutput, opts)
	}

	return slog.New(handler)
}
