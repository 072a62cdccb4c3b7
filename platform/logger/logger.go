// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("component", name)),
	}
}

// ConnectionEvent logs a connection lifecycle transition.
func (l *Logger) ConnectionEvent(from, to, reason string) {
	l.Info("connection_event",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
	)
}

// SendOutcome logs the result of an outbound message attempt.
func (l *Logger) SendOutcome(orderID, messageType string, success bool, err error) {
	if success {
		l.Info("message_sent",
			slog.String("order_id", orderID),
			slog.String("message_type", messageType),
		)
		return
	}

	attrs := []any{
		slog.String("order_id", orderID),
		slog.String("message_type", messageType),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.Warn("message_failed", attrs...)
}

// SuppressedSend logs a deliberate no-op caused by the suppression guard.
func (l *Logger) SuppressedSend(orderID, messageType string, sinceMinutes float64) {
	l.Debug("message_suppressed",
		slog.String("order_id", orderID),
		slog.String("message_type", messageType),
		slog.Float64("since_minutes", sinceMinutes),
	)
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// SourceError logs a data source error
func (l *Logger) SourceError(operation string, err error) {
	l.Error("source_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
