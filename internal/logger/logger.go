// Package logger configures structured logging with log/slog. Every process
// logs JSON to stdout with the worker name embedded, and event IDs from the
// stream envelopes propagate through context so one event can be followed
// across ingest, analysis and persistence.
package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

type ctxKey string

const eventIDKey ctxKey = "event_id"

// Init creates a JSON logger for the given worker and installs it as the
// slog default so package-level slog calls share the same output.
func Init(worker string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	log := slog.New(handler).With(
		slog.String("worker", worker),
	)
	slog.SetDefault(log)

	return log
}

// ParseLevel maps a config string to a slog level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithEventID stores an envelope's event ID in the context.
func WithEventID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, eventIDKey, id.String())
}

// EventID extracts the event ID from context. Returns "" if not set.
func EventID(ctx context.Context) string {
	if v, ok := ctx.Value(eventIDKey).(string); ok {
		return v
	}
	return ""
}

// WithEvent returns slog attributes carrying the event ID from context.
// Usage: slog.Info("msg", logger.WithEvent(ctx)...)
func WithEvent(ctx context.Context) []any {
	id := EventID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("event_id", id)}
}
