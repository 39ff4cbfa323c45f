// Package logging sets up the structured logger shared by every component
// of a run.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with the service identity every entry carries.
type Logger struct {
	*logrus.Logger
	serviceName string
	version     string
	closer      io.Closer
}

// Config holds logging configuration
type Config struct {
	Level       string `json:"level" yaml:"level"`
	Format      string `json:"format" yaml:"format"`
	Output      string `json:"output" yaml:"output"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
}

// DefaultConfig logs warnings and above as text to stderr, leaving stdout
// to the run summary.
func DefaultConfig() *Config {
	return &Config{
		Level:       "warn",
		Format:      "text",
		Output:      "stderr",
		ServiceName: "surge",
		Version:     "dev",
	}
}

// NewLogger creates a new structured logger. Output is "stdout", "stderr"
// or a file path opened for append.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	l := &Logger{
		Logger:      logger,
		serviceName: config.ServiceName,
		version:     config.Version,
	}

	switch strings.ToLower(config.Output) {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr", "":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(file)
		l.closer = file
	}

	return l, nil
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Logger{Logger: logger}
}

// Entry returns an entry carrying the service and version fields, suitable
// for handing to components as a logrus.FieldLogger.
func (l *Logger) Entry() *logrus.Entry {
	fields := logrus.Fields{}
	if l.serviceName != "" {
		fields["service"] = l.serviceName
	}
	if l.version != "" {
		fields["version"] = l.version
	}
	return l.Logger.WithFields(fields)
}

// WithComponent creates a logger with component field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Entry().WithField("component", component)
}

// WithDuration creates a logger with duration field
func (l *Logger) WithDuration(duration time.Duration) *logrus.Entry {
	return l.Entry().WithFields(logrus.Fields{
		"duration_ms": duration.Milliseconds(),
		"duration":    duration.String(),
	})
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
