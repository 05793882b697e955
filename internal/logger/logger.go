// Package logger wraps log/slog with the small Config/New/Global surface
// used throughout the bridge, so every component logs through the same
// structured handler regardless of which transport or subsystem it lives in.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger so call sites can depend on this package instead
// of the standard library directly.
type Logger struct {
	*slog.Logger
}

// Config controls handler construction.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"
	Output string // "stdout", "file"
	File   string // path when Output == "file"
}

var globalLogger *Logger

// New builds a Logger from Config. The first Logger constructed becomes the
// global logger returned by Global until SetGlobal is called. Unlike a
// silent fallback to stdout, a requested file output that can't be opened
// is a startup error the caller must handle, not a swallowed warning.
func New(config Config) (*Logger, error) {
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	writer := os.Stdout
	if config.Output == "file" && config.File != "" {
		f, err := os.OpenFile(config.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", config.File, err)
		}
		writer = f
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	l := &Logger{Logger: slog.New(handler)}
	if globalLogger == nil {
		globalLogger = l
	}
	return l, nil
}

// Global returns the process-wide logger, defaulting to info/text/stdout if
// none has been constructed yet.
func Global() *Logger {
	if globalLogger == nil {
		l, _ := New(Config{Level: "info", Format: "text"})
		return l
	}
	return globalLogger
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	globalLogger = l
}

// With returns a Logger with the given structured attributes attached to
// every subsequent record, used to tag a component (e.g. "subsystem=ble").
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
