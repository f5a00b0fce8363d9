// Package log provides a structured logging interface for dircal calibrators.
//
// The interface is slog-compatible so that the backend can be switched
// between zerolog (the default provider) and log/slog (see SetupLogger)
// without touching calibration code.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("calibration.driver").With(
//	    log.MatrixTypeKey, "full",
//	)
//	logger.Info("Calibration fit started",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, 1000,
//	    log.ClassesKey, 3,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are passed as alternating key/value pairs. For Error, a leading
// error value (odd position 0) is attached as the error of the record.
type Logger interface {
	// Debug logs detailed diagnostic information such as per-iteration loss.
	Debug(msg string, fields ...any)

	// Info logs operational milestones such as fit start and completion.
	Info(msg string, fields ...any)

	// Warn logs conditions that do not stop the operation, e.g. a fit that
	// reached its iteration limit.
	Warn(msg string, fields ...any)

	// Error logs failures. If the first field is an error it is recorded
	// as the record's error together with its stack trace when available.
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every record.
	With(fields ...any) Logger

	// Enabled reports whether records at level would be emitted.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers. Calibration code only depends on this
// interface so tests can inject a TestLoggerProvider.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for loggers of this provider.
	SetLevel(level Level)
}
