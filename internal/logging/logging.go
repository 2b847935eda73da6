// Package logging provides structured logging for certsweep on top of log/slog.
// It supports text and JSON output, configurable levels and a process-wide
// default logger with sweep-oriented helpers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig logs text at info level to stderr, keeping stdout free for
// command output.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: "stderr",
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	writer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewWithWriter(cfg, writer), nil
}

// NewWithWriter creates a logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), config: cfg}
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	return NewWithWriter(DefaultConfig(), os.Stderr)
}

// ParseLevel maps a configured level to slog, falling back to info.
func ParseLevel(level LogLevel) slog.Level {
	switch strings.ToLower(string(level)) {
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

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), logDirPerm); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Config returns the configuration the logger was built from.
func (l *Logger) Config() Config {
	return l.config
}

// WithFields returns a logger with additional structured fields.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...), config: l.config}
}

// WithComponent tags log lines with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithSweep tags log lines with a sweep session ID.
func (l *Logger) WithSweep(sessionID string) *Logger {
	return l.WithFields("sweep_id", sessionID)
}

// WithTarget tags log lines with a probe target.
func (l *Logger) WithTarget(target string) *Logger {
	return l.WithFields("target", target)
}

// WithError attaches an error.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// InfoSweep logs a sweep lifecycle event.
func (l *Logger) InfoSweep(msg, sessionID string, fields ...any) {
	l.Info(msg, append([]any{"sweep_id", sessionID}, fields...)...)
}

// ErrorSweep logs a sweep failure.
func (l *Logger) ErrorSweep(msg, sessionID string, err error, fields ...any) {
	l.Error(msg, append([]any{"sweep_id", sessionID, "error", err}, fields...)...)
}

// WarnLookup logs a failed annotation lookup. Lookups never fail a sweep.
func (l *Logger) WarnLookup(msg, address string, err error, fields ...any) {
	l.Warn(msg, append([]any{"address", address, "error", err}, fields...)...)
}

var defaultLogger = NewDefault()

// SetDefault replaces the process-wide logger and slog's default.
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger
}

func Debug(msg string, fields ...any) { defaultLogger.Debug(msg, fields...) }
func Info(msg string, fields ...any)  { defaultLogger.Info(msg, fields...) }
func Warn(msg string, fields ...any)  { defaultLogger.Warn(msg, fields...) }
func Error(msg string, fields ...any) { defaultLogger.Error(msg, fields...) }

// InfoSweep logs a sweep lifecycle event on the default logger.
func InfoSweep(msg, sessionID string, fields ...any) {
	defaultLogger.InfoSweep(msg, sessionID, fields...)
}

// ErrorSweep logs a sweep failure on the default logger.
func ErrorSweep(msg, sessionID string, err error, fields ...any) {
	defaultLogger.ErrorSweep(msg, sessionID, err, fields...)
}
