// Package logger provides the structured logging contract used by every SDK component.
package logger

import (
	"context"
)

// Logger defines the interface for structured logging throughout the SDK.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger that carries the call ID stored in ctx.
	WithContext(ctx context.Context) Logger
}

type callIDKey struct{}

// ContextWithCallID stores an SDK call identifier on ctx so that log entries
// emitted while serving that call can be correlated.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callIDKey{}, callID)
}

// CallIDFromContext returns the call identifier stored on ctx, or "".
func CallIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(callIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NopLogger discards every entry.
type NopLogger struct{}

// NewNop returns a logger that discards everything.
func NewNop() Logger { return NopLogger{} }

func (NopLogger) Debug(string, ...any)                 {}
func (NopLogger) Info(string, ...any)                  {}
func (NopLogger) Warn(string, ...any)                  {}
func (NopLogger) Error(string, ...any)                 {}
func (n NopLogger) With(...any) Logger                 { return n }
func (n NopLogger) WithContext(context.Context) Logger { return n }

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
