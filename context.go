package screenflow

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	LoggerContextKey   ContextKey = "logger"
	ThreadIDContextKey ContextKey = "thread_id"
)

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDContextKey, threadID)
}

func GetLoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger)
	return logger, ok
}

func GetThreadIDFromContext(ctx context.Context) (string, bool) {
	threadID, ok := ctx.Value(ThreadIDContextKey).(string)
	return threadID, ok
}

// LoggerFromContext returns the logger stored in ctx, or a logger that
// discards everything.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := GetLoggerFromContext(ctx); ok && logger != nil {
		return logger
	}
	return discardLogger
}
