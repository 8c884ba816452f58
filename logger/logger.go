package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger represents a structured logger
type Logger struct {
	logger zerolog.Logger
}

var (
	// Default is the default logger instance
	Default *Logger
)

// Init initializes the logger with the given configuration
func Init() {
	InitWithWriter(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	Default.Info().
		Str("level", zerolog.GlobalLevel().String()).
		Msg("Logger initialized")
}

// InitWithWriter initializes the default logger writing to w
func InitWithWriter(w io.Writer) {
	level := getLogLevel()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(w).With().Timestamp().Logger()

	Default = &Logger{logger: logger}
}

// getLogLevel returns the log level from environment variable
func getLogLevel() zerolog.Level {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("HARVEST_ENVIRONMENT")
		if levelStr == "production" {
			return zerolog.InfoLevel
		}
		return zerolog.DebugLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// WithStr creates a new logger with a single string field
func (l *Logger) WithStr(key, value string) *Logger {
	return &Logger{logger: l.logger.With().Str(key, value).Logger()}
}

// Debug returns a debug event
func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

// Info returns an info event
func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

// Warn returns a warn event
func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

// Error returns an error event
func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// Global functions for backward compatibility

// Debug logs a debug message
func Debug(format string, v ...interface{}) {
	ensure()
	Default.Debug().Msgf(format, v...)
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	ensure()
	Default.Info().Msgf(format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	ensure()
	Default.Warn().Msgf(format, v...)
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	ensure()
	return Default.logger.GetLevel() <= zerolog.DebugLevel && zerolog.GlobalLevel() <= zerolog.DebugLevel
}

func ensure() {
	if Default == nil {
		Init()
	}
}

// ForHarvester creates a logger for the harvest orchestrator
func ForHarvester() *Logger {
	ensure()
	return Default.WithStr("component", "harvester")
}

// ForFilter creates a logger for a single filter iteration
func ForFilter(label string) *Logger {
	return ForHarvester().WithStr("filter", label)
}

// ForPager creates a logger for the pager interpreter
func ForPager() *Logger {
	ensure()
	return Default.WithStr("component", "pager")
}

// ForSession creates a logger for the automation session
func ForSession() *Logger {
	ensure()
	return Default.WithStr("component", "session")
}

// ForWorker creates a logger for the worker
func ForWorker() *Logger {
	ensure()
	return Default.WithStr("component", "worker")
}

// ForPublisher creates a logger for the publisher
func ForPublisher() *Logger {
	ensure()
	return Default.WithStr("component", "publisher")
}

// ForCache creates a logger for the cache
func ForCache() *Logger {
	ensure()
	return Default.WithStr("component", "cache")
}

// LogError is a convenience method for logging errors with context
func LogError(component string, err error, format string, v ...interface{}) {
	ensure()
	msg := fmt.Sprintf(format, v...)
	Default.Error().
		Str("component", component).
		Err(err).
		Msg(msg)
}
