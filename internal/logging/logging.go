// Package logging configures the process-wide logrus logger and the field
// conventions shared by the dispatcher, poller and handlers.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voice_scribe_bot/internal/config"
)

const serviceName = "voice-scribe-bot"

var (
	mu         sync.RWMutex
	baseLogger *logrus.Entry
)

// Context carries the optional per-update fields attached to log entries.
type Context struct {
	UpdateID   int64
	DispatchID string
	ChatID     int64
	UserID     int64
	Kind       string
}

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Setup configures the global logger from runtime configuration: JSON in
// production, text in development, with service and env on every entry.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(cfg.AppEnv))

	fields := logrus.Fields{
		"service": serviceName,
		"env":     cfg.AppEnv,
	}
	if cfg.TestMode {
		fields["test_mode"] = true
	}

	entry := logger.WithFields(fields)
	Use(entry)

	return entry, nil
}

// Use replaces the base logger. Tests pass an entry backed by a null logger.
func Use(entry *logrus.Entry) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = entry
}

// Logger returns the configured base logger, falling back to a production
// default before Setup has run.
func Logger() *logrus.Entry {
	return ensureLogger()
}

// Fields converts the context into logrus fields, skipping zero values.
func (c Context) Fields() logrus.Fields {
	fields := logrus.Fields{}

	if c.UpdateID != 0 {
		fields["update_id"] = c.UpdateID
	}
	if c.DispatchID != "" {
		fields["dispatch_id"] = c.DispatchID
	}
	if c.ChatID != 0 {
		fields["chat_id"] = c.ChatID
	}
	if c.UserID != 0 {
		fields["user_id"] = c.UserID
	}
	if kind := strings.TrimSpace(c.Kind); kind != "" {
		fields["kind"] = kind
	}

	return fields
}

// Info logs an informational message with optional structured fields.
func Info(msg string, fields logrus.Fields) {
	logWithFields(fields).Info(msg)
}

// Error logs an error message with optional structured fields.
func Error(msg string, fields logrus.Fields) {
	logWithFields(fields).Error(msg)
}

func logWithFields(fields logrus.Fields) *logrus.Entry {
	entry := ensureLogger()
	if len(fields) == 0 {
		return entry
	}

	return entry.WithFields(fields)
}

func ensureLogger() *logrus.Entry {
	mu.RLock()
	entry := baseLogger
	mu.RUnlock()
	if entry != nil {
		return entry
	}

	mu.Lock()
	defer mu.Unlock()
	if baseLogger != nil {
		return baseLogger
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(formatterForEnv(config.DefaultAppEnv))

	baseLogger = logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     config.DefaultAppEnv,
	})

	return baseLogger
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

func parseLevel(value string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}

func resetLogger() {
	Use(nil)
}
