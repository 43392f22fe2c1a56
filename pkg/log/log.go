package log

import (
	"context"
	"log/slog"
	"os"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = newDefault()
)

func newDefault() *slog.Logger {
	defaultLogLevel.Set(slog.LevelInfo)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger stored in the context, falling back to the
// default JSON logger when none is set.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context carrying the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Component derives a child logger tagged with the subsystem name and
// returns a context carrying it alongside the logger itself.
func Component(ctx context.Context, name string) (context.Context, *slog.Logger) {
	l := Ctx(ctx).With(slog.String("component", name))
	return With(ctx, l), l
}

// SetDefaultLogLevel changes the level of the default logger.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
