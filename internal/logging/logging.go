// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a settings value to a slog level. Unknown values give info.
func ParseLevel(level string) slog.Level {
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

// New returns a colorized logger writing to w.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      ParseLevel(level),
			TimeFormat: "15:04:05",
			NoColor:    !isTerminal(w),
		}),
	)
}

// Install sets the default logger and returns it.
func Install(w io.Writer, level string) *slog.Logger {
	logger := New(w, level)
	slog.SetDefault(logger)
	return logger
}
