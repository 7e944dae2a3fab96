// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cursor state transitions (next link, complete flag)
//   - Filter expressions and query parameters
//   - Sub-batch sizes and worker results
//
// Info: Normal operation events
//   - Successful Graph requests and page sizes
//   - Slice planning output per cycle
//   - Records pushed to the queue backend
//   - Worker startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Throttling waits (HTTP 429, Retry-After honored)
//   - Task retry attempts
//   - Config file errors (skipped, defaults kept)
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Malformed Graph payloads (missing records container)
//   - Queue delivery failures
//
// Context Fields:
//   - resource: Graph resource path (e.g. auditLogs/signIns)
//   - request_id: client-request-id correlation header
//   - status_code: HTTP status code
//   - duration: Request duration
//   - slice_start, slice_end: time slice bounds
//   - records: record count in a page or sub-batch
//   - queue_key: target Redis list or channel
