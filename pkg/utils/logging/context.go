package logging

import (
	"context"
	"log/slog"
)

type ctxLoggerKey struct{}

// With returns a ctx carrying the given logger. The HTTP middleware uses it
// to attach a request-scoped logger with a request ID.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// From retrieves the logger carried by ctx, falling back to the process
// default so callers never need a nil check.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
