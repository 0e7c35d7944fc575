// Package log provides structured logging utilities for xelminer.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithContract returns a logger with contract-specific fields
func (l *Logger) WithContract(contract string, eventID uint64) *Logger {
	return l.WithFields("contract", contract, "event_id", eventID)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Mining-specific logging helpers

// LogSearchStarted logs the start of a search cycle
func (l *Logger) LogSearchStarted(blockHeight uint64, difficulty string, prevHash string) {
	l.Info("search started",
		"block_height", blockHeight,
		"difficulty", difficulty,
		"prev_hash", prevHash,
	)
}

// LogHashrate logs a hashrate sample
func (l *Logger) LogHashrate(hashes uint64, elapsedSec float64, nonce uint64) {
	rate := float64(hashes) / elapsedSec
	l.Info("hashrate sample",
		"hashes", hashes,
		"elapsed_sec", elapsedSec,
		"hashrate", rate,
		"hashrate_khs", rate/1e3,
		"nonce", nonce,
	)
}

// LogSolutionFound logs a candidate solution
func (l *Logger) LogSolutionFound(nonce uint64, finalHash string, blockHeight uint64) {
	l.Info("solution found",
		"nonce", nonce,
		"final_hash", finalHash,
		"block_height", blockHeight,
	)
}

// LogSubmissionResult logs the structured contract return code of a submission
func (l *Logger) LogSubmissionResult(nonce uint64, returnCode int64, meaning string) {
	l.Info("submission result",
		"nonce", nonce,
		"return_code", returnCode,
		"meaning", meaning,
	)
}

// LogReconnect logs an event subscription reconnect attempt
func (l *Logger) LogReconnect(endpoint string, backoff string, attempt uint64) {
	l.Warn("event subscription reconnecting",
		"endpoint", endpoint,
		"backoff", backoff,
		"attempt", attempt,
	)
}
