package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// Init builds the process logger. Development gets human-readable text with
// source locations; everything else emits JSON for the log pipeline. The
// returned logger is also installed as slog's default so code outside a
// request context still lands in the same stream.
func Init(service, level, appEnv string) *slog.Logger {
	dev := appEnv == "development"
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: dev,
	}

	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		"service", service,
		"env", appEnv,
	)
	slog.SetDefault(logger)
	return logger
}

// FromContext returns the request-scoped logger installed by the logging
// middleware, or the process default when there is none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
