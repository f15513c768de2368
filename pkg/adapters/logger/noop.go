package logger

import "github.com/user/detectshow/pkg/ports"

// NoopLogger is a logger that discards all messages.
// Used for quiet mode and as the default in library code.
type NoopLogger struct{}

// NewNoop creates a new no-op logger.
func NewNoop() *NoopLogger {
	return &NoopLogger{}
}

// Debug does nothing.
func (l *NoopLogger) Debug(msg string, args ...interface{}) {}

// Info does nothing.
func (l *NoopLogger) Info(msg string, args ...interface{}) {}

// Warn does nothing.
func (l *NoopLogger) Warn(msg string, args ...interface{}) {}

// Error does nothing.
func (l *NoopLogger) Error(msg string, args ...interface{}) {}

// WithComponent returns the same no-op logger.
func (l *NoopLogger) WithComponent(component string) ports.Logger {
	return l
}

// WithField returns the same no-op logger.
func (l *NoopLogger) WithField(key string, value interface{}) ports.Logger {
	return l
}

var _ ports.Logger = (*NoopLogger)(nil)
