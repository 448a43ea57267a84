// Package obslog provides the shared structured logger used by the gateway
// and orchestrator binaries, backed by slog with optional file rotation.
package obslog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the package-level default logger. It is nil until Init or
// InitWithConfig is called; binaries call one of them during startup.
var Log *slog.Logger

// Config controls logger output format, destination, and rotation.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init initializes the package logger with JSON output to stdout at the
// given level. Convenience wrapper around InitWithConfig for simple cases.
func Init(level string) {
	InitWithConfig(Config{
		Level:  level,
		Format: "json",
		Output: "stdout",
	})
}

// InitWithConfig initializes the package logger from a full Config.
func InitWithConfig(cfg Config) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			cfg.FilePath = "logs/app.log"
		}
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			writer = os.Stdout
		} else {
			writer = &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// WithRequestID returns a logger annotated with a request/correlation ID.
func WithRequestID(requestID string) *slog.Logger {
	return Log.With("request_id", requestID)
}

// WithRoute returns a logger annotated with the matched route name.
func WithRoute(route string) *slog.Logger {
	return Log.With("route", route)
}

// Debug logs at debug level using the package logger.
func Debug(msg string, args ...any) { Log.Debug(msg, args...) }

// Info logs at info level using the package logger.
func Info(msg string, args ...any) { Log.Info(msg, args...) }

// Warn logs at warn level using the package logger.
func Warn(msg string, args ...any) { Log.Warn(msg, args...) }

// Error logs at error level using the package logger.
func Error(msg string, args ...any) { Log.Error(msg, args...) }

// Fatal logs at error level then terminates the process.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
