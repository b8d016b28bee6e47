// Package logger is the structured logging facade used across
// ravelnet. It wraps logrus so an embedding application can attach its
// own formatter/hooks while the engine keeps a small, stable call
// surface: Debug/Info/Warn/Error/Success/Fatal plus a field-scoped
// With() for connection-level context (remote, tag, status, reason).
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the minimum log level by name ("debug", "info", "warn",
// "error"); unknown names are ignored.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

// Fields is the structured key/value payload attached to a log entry.
type Fields = logrus.Fields

// Entry is a logger with fields already attached.
type Entry struct {
	e *logrus.Entry
}

// With starts a field-scoped entry, e.g.
// logger.With(logger.Fields{"remote": addr, "tag": tag}).Info("connected").
func With(fields Fields) *Entry {
	return &Entry{e: base.WithFields(fields)}
}

func (en *Entry) Debug(msg string) { en.e.Debug(msg) }
func (en *Entry) Info(msg string)  { en.e.Info(msg) }
func (en *Entry) Warn(msg string)  { en.e.Warn(msg) }
func (en *Entry) Error(msg string) { en.e.Error(msg) }

// Debug logs an unstructured debug line; prefer With(...).Debug inside
// a connection's scope.
func Debug(format string, args ...interface{}) { base.Debugf(format, args...) }

// Info logs an unstructured informational line.
func Info(format string, args ...interface{}) { base.Infof(format, args...) }

// Warn logs an unstructured warning line.
func Warn(format string, args ...interface{}) { base.Warnf(format, args...) }

// Error logs an unstructured error line.
func Error(format string, args ...interface{}) { base.Errorf(format, args...) }

// Success logs a startup/milestone line at info level.
func Success(format string, args ...interface{}) { base.Infof(format, args...) }

// Fatal logs and exits the process.
func Fatal(format string, args ...interface{}) { base.Fatalf(format, args...) }
