// Package logging owns the process-wide structured logger. Command
// output belongs on stdout, so diagnostics are logfmt records on
// stderr and stay out of pipelines.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
)

// Init configures the logger at the named verbosity. Unrecognized
// names fall back to info so a typo on --log-level never aborts a
// command.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(parseLevel(level))
	slog.SetDefault(logger)
}

// Logger returns the configured logger, standing up an info-level one
// when a code path runs before Init.
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newLogger(slog.LevelInfo)
	}
	return logger
}

// Debug records a diagnostic that is invisible at default verbosity.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

func newLogger(lvl slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
