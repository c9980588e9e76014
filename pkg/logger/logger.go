package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger to provide additional functionality
type Logger struct {
	zerolog.Logger
}

// Config holds the logger configuration
type Config struct {
	// Level is the minimum level to log
	Level string `json:"level" default:"info"`

	// Format specifies the output format (json or console)
	Format string `json:"format" default:"console"`

	// Output specifies where to write logs (stdout, stderr, or file path)
	Output string `json:"output" default:"stderr"`

	// TimeFormat specifies the format for timestamps
	TimeFormat string `json:"time_format" default:"2006-01-02T15:04:05.000Z07:00"`

	// AddCaller adds the caller (file:line) to log entries
	AddCaller bool `json:"add_caller" default:"true"`
}

// defaultTimeFormat is the default time format for logging
const defaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// NewLogger creates a new logger instance with the provided configuration
func NewLogger(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: defaultTimeFormat,
			AddCaller:  false,
		}
	}

	// Configure zerolog
	zerolog.TimeFieldFormat = cfg.TimeFormat
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output writer
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		// Attempt to open file for writing
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file %s: %v\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Configure output format
	if strings.ToLower(cfg.Format) == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: cfg.TimeFormat,
			NoColor:    false,
		}
	}

	// Create logger
	logger := zerolog.New(output).
		With().
		Timestamp().
		Logger()

	// Add caller if configured
	if cfg.AddCaller {
		logger = logger.With().Caller().Logger()
	}

	return &Logger{
		Logger: logger,
	}
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.With().Interface(key, value).Logger()}
}

// WithRunID adds a pipeline run ID to the logger
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithStage adds a pipeline stage name to the logger
func (l *Logger) WithStage(stage string) *Logger {
	return l.WithField("stage", stage)
}

// parseLevel converts a string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
