package util

import (
	"context"
	"log/slog"
	"strings"
)

type requestIDContextKey string

type loggerContextKey struct{}

const (
	RequestIDHeader          = "X-Request-Id"
	requestIDCtxKey          = requestIDContextKey("request_id")
	defaultRequestIDFallback = ""
)

// WithRequestID returns a context carrying a request id, reusing one that
// is already present. A child slog.Logger carrying "request_id" is stored
// alongside it; see LoggerFromContext.
func WithRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID := strings.TrimSpace(RequestIDFromContext(ctx))
	if requestID != "" {
		return ctx, requestID
	}
	requestID = NewID()
	ctx = context.WithValue(ctx, requestIDCtxKey, requestID)
	ctx = ContextWithLogger(ctx, slog.Default().With("request_id", requestID))
	return ctx, requestID
}

// RequestIDFromContext returns request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return defaultRequestIDFallback
	}
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the logger stored in ctx or the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}
