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

	// Fields are added to every log line (e.g. service, instance).
	Fields map[string]string
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
	level := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	// Create logger with timestamp
	ctx := zerolog.New(output).With().Timestamp()
	for k, v := range cfg.Fields {
		ctx = ctx.Str(k, v)
	}
	logger := ctx.Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// ParseLevel converts LogLevel to zerolog.Level. Unknown levels map to info.
func ParseLevel(level LogLevel) zerolog.Level {
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

// WithTenant returns a child of logger tagged with the tenant (company database).
func WithTenant(logger zerolog.Logger, tenant string) zerolog.Logger {
	return logger.With().Str("tenant", tenant).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Session operations (token hit/miss, shared login)
//   - Request flow (path, tenant, permit acquisition)
//   - Page and batch part details
//
// Info: Normal operation events
//   - Logins
//   - Requests that succeeded after retry
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts
//   - Admission rejections (queue full)
//   - Business errors returned by the Service Layer
//   - Token store errors (fallback to login)
//
// Error: Error conditions requiring attention
//   - Retry attempts exhausted
//   - Failed logins
//   - Fan-out operations that panicked
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (servicelayer-client, gate, session)
//   - tenant: company database
//   - path: Service Layer resource path
//   - status: HTTP status code
//   - code: Service Layer error code
//   - attempt: 1-based attempt number
//   - backoff: delay before the next attempt
