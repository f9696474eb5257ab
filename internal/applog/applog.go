// Package applog provides the engine's structured logging interface,
// mirrored on the context-aware Logger contract used elsewhere in the
// example pack (dmitrijs2005-gophkeeper/internal/logging) and backed by
// the standard library's log/slog.
package applog

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// Logger is a context-aware, structured logger. The variadic args are
// key-value pairs, e.g. Info(ctx, "drained outbox", "count", n).
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

func newSlogLogger(l *slog.Logger) Logger {
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, args...)
}

func (s *slogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, args...)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, args...)
}

func (s *slogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, args...)
}

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}

var (
	mu   sync.Mutex
	base *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// SetBase replaces the root slog.Logger every component logger derives
// from. Call once at process startup (e.g. to switch to JSON output or
// raise the level); safe to leave untouched for the default text logger.
func SetBase(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// For returns a child Logger tagged with the given component name, e.g.
// applog.For("syncengine") logs every line with component=syncengine.
func For(component string) Logger {
	mu.Lock()
	b := base
	mu.Unlock()
	return newSlogLogger(b.With("component", component))
}
