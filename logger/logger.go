// Package logger provides structured logging for the tiny POP3 server.
//
// It wraps the standard library slog. Initialize it once at startup from
// the logging configuration, then use the package-level functions:
//
//	logFile, err := logger.Initialize(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger.Info("POP3 server listening", "addr", addr)
//
// Supported outputs are stdout, stderr, or a file path; formats are
// "console" (text) and "json".
package logger

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rantala/tiny-pop3-server/config"
)

var globalLogger *slog.Logger

// Initialize sets up the global logger based on configuration. The returned
// file is non-nil when logging to a file; the caller owns closing it.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	format := cfg.Format
	if format == "" {
		format = "console"
	}

	handlerOpts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	}

	newHandler := func(w *os.File) slog.Handler {
		if format == "json" {
			return slog.NewJSONHandler(w, handlerOpts)
		}
		return slog.NewTextHandler(w, handlerOpts)
	}

	var logFile *os.File
	var handler slog.Handler

	switch output {
	case "stdout":
		handler = newHandler(os.Stdout)
	case "stderr":
		handler = newHandler(os.Stderr)
	default:
		// Assume it's a file path.
		var err error
		logFile, err = os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to open log file '%s': %v. Falling back to stderr.\n", output, err)
			handler = newHandler(os.Stderr)
			logFile = nil
		} else {
			handler = newHandler(logFile)
		}
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)

	return logFile, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger instance.
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Fatal logs an error message and exits.
func Fatal(msg string, args ...any) {
	Get().Error(msg, args...)
	os.Exit(1)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}
