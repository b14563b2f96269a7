package logging

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tidehook/tidehook/internal/tracing"
)

// Logger provides structured logging with trace correlation. It is a thin
// wrapper around logrus that standardizes the field names used across the
// engine (delivery_id, subscription_id, event_id, ...).
type Logger struct {
	base *logrus.Entry
}

// New creates a new structured logger for the given service. Output is JSON
// on stdout; the level is taken from LOG_LEVEL (default info).
func New(service string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	}
	return &Logger{base: l.WithField("service", service)}
}

// Plain returns a basic log entry without context.
func (l *Logger) Plain() *logrus.Entry {
	return l.base
}

// WithContext returns a log entry carrying the trace id from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	e := l.base
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		e = e.WithField("trace_id", traceID)
	}
	return e
}

// WithDelivery tags an entry with a delivery id.
func (l *Logger) WithDelivery(ctx context.Context, deliveryID string) *logrus.Entry {
	return l.WithContext(ctx).WithField("delivery_id", deliveryID)
}

// WithSubscription tags an entry with a subscription id.
func (l *Logger) WithSubscription(ctx context.Context, subscriptionID string) *logrus.Entry {
	return l.WithContext(ctx).WithField("subscription_id", subscriptionID)
}

// WithEvent tags an entry with an event id.
func (l *Logger) WithEvent(ctx context.Context, eventID string) *logrus.Entry {
	return l.WithContext(ctx).WithField("event_id", eventID)
}

var defaultLogger = New("tidehook")

// SetDefaultService renames the service field on the package-level logger.
func SetDefaultService(service string) {
	defaultLogger = New(service)
}

// Plain returns a basic log entry from the package-level logger.
func Plain() *logrus.Entry {
	return defaultLogger.Plain()
}

// WithContext returns a trace-correlated entry from the package-level logger.
func WithContext(ctx context.Context) *logrus.Entry {
	return defaultLogger.WithContext(ctx)
}
