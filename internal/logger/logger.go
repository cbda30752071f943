// Package logger wraps a process-wide logrus logger used by every component
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/constants"
)

var log = logrus.New()

// InitializeAndConfigure sets up the logger from LOG_LEVEL and LOG_FORMAT
func InitializeAndConfigure() {
	log.SetOutput(os.Stdout)
	Configure(os.Getenv(constants.EnvLogLevel), os.Getenv(constants.EnvLogFormat))
}

// Configure applies a level and output format. Unknown values fall back to info and json.
func Configure(level, format string) {
	switch strings.ToLower(format) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	log.SetLevel(logrus.InfoLevel)
	if level == "" {
		return
	}
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info'", level)
		return
	}
	log.SetLevel(parsed)
	log.Debugf("Log level set to '%s'", parsed)
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// WithComponent returns an entry tagged with the emitting component
func WithComponent(component string) *logrus.Entry {
	return log.WithField("component", component)
}

// Info logs a message at the info level
func Info(args ...interface{}) {
	log.Info(args...)
}

// Warn logs a message at the warn level
func Warn(args ...interface{}) {
	log.Warn(args...)
}

// Fatal logs a message at the fatal level and exits
func Fatal(args ...interface{}) {
	log.Fatal(args...)
}

// Debugf logs a formatted message at the debug level
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Infof logs a formatted message at the info level
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warnf logs a formatted message at the warn level
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Errorf logs a formatted message at the error level
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// Fatalf logs a formatted message at the fatal level and exits
func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

func withFields(fields map[string]interface{}) *logrus.Entry {
	return log.WithFields(logrus.Fields(fields))
}

// InfoWithFields logs msg at info with structured fields
func InfoWithFields(msg string, fields map[string]interface{}) { withFields(fields).Info(msg) }

func DebugWithFields(msg string, fields map[string]interface{}) { withFields(fields).Debug(msg) }

func WarnWithFields(msg string, fields map[string]interface{}) { withFields(fields).Warn(msg) }

func ErrorWithFields(msg string, fields map[string]interface{}) { withFields(fields).Error(msg) }
