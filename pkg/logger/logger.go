package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New builds the process-wide structured logger. Output is JSON on stdout;
// the collector owns shipping and retention. Debug level is reserved for
// non-production environments.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	switch appEnv {
	case "local", "dev":
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "carecall")
}

type ctxKey struct{}

// With stores a logger in ctx so request-scoped attributes travel with the
// work they describe.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored in ctx, or slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// ShutdownFlush drains buffered log output on shutdown. The JSON handler
// writes synchronously, so today this is a no-op kept for the call site.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
