package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns the process JSON logger on stdout. local and dev log at debug.
func New(appEnv string) *slog.Logger {
	return NewWriter(appEnv, os.Stdout)
}

// NewWriter is New with an explicit destination; the simulate command logs to stderr so
// its table output stays clean.
func NewWriter(appEnv string, w io.Writer) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: Level(appEnv)})
	return slog.New(h)
}

func Level(appEnv string) slog.Level {
	switch appEnv {
	case "local", "dev", "test":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
