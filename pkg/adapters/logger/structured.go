package logger

import (
	"io"

	"github.com/ideamans/go-l10n"
	"github.com/sirupsen/logrus"

	"github.com/user/detectshow/pkg/ports"
)

// StructuredLogger emits one logrus entry per message. Messages are
// translated like the console logger; component and fields become
// entry fields.
type StructuredLogger struct {
	entry *logrus.Entry
}

// NewStructured creates a logger writing to out as JSON when json is
// true and as logfmt text otherwise.
func NewStructured(level ports.LogLevel, out io.Writer, json bool) *StructuredLogger {
	l := logrus.New()
	l.SetOutput(out)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
	l.SetLevel(logrusLevel(level))
	return &StructuredLogger{entry: logrus.NewEntry(l)}
}

func logrusLevel(level ports.LogLevel) logrus.Level {
	switch level {
	case ports.LevelDebug:
		return logrus.DebugLevel
	case ports.LevelInfo:
		return logrus.InfoLevel
	case ports.LevelWarn:
		return logrus.WarnLevel
	case ports.LevelError:
		return logrus.ErrorLevel
	default:
		// Quiet: nothing below panic is emitted.
		return logrus.PanicLevel
	}
}

// Debug logs a debug message.
func (l *StructuredLogger) Debug(msg string, args ...interface{}) {
	if l.entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l.entry.Debug(l10n.F(msg, args...))
	}
}

// Info logs an informational message.
func (l *StructuredLogger) Info(msg string, args ...interface{}) {
	if l.entry.Logger.IsLevelEnabled(logrus.InfoLevel) {
		l.entry.Info(l10n.F(msg, args...))
	}
}

// Warn logs a warning message.
func (l *StructuredLogger) Warn(msg string, args ...interface{}) {
	if l.entry.Logger.IsLevelEnabled(logrus.WarnLevel) {
		l.entry.Warn(l10n.F(msg, args...))
	}
}

// Error logs an error message.
func (l *StructuredLogger) Error(msg string, args ...interface{}) {
	if l.entry.Logger.IsLevelEnabled(logrus.ErrorLevel) {
		l.entry.Error(l10n.F(msg, args...))
	}
}

// WithComponent returns a logger whose entries carry a component field.
func (l *StructuredLogger) WithComponent(component string) ports.Logger {
	return &StructuredLogger{entry: l.entry.WithField("component", component)}
}

// WithField returns a logger whose entries carry key=value.
func (l *StructuredLogger) WithField(key string, value interface{}) ports.Logger {
	return &StructuredLogger{entry: l.entry.WithField(key, value)}
}

var _ ports.Logger = (*StructuredLogger)(nil)
