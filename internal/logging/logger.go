package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "reservation-notifier"

// NewLogger builds a JSON logger on stdout tagged with the service and
// component names.
func NewLogger(level, component string) *slog.Logger {
	return newLogger(os.Stdout, level, component)
}

func newLogger(w io.Writer, level, component string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	logger := slog.New(slog.NewJSONHandler(w, opts)).With("service", serviceName)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
