// Package logging builds the process logger and carries the per-run
// correlation id through contexts.
package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey int

const runIDKey ctxKey = iota

// WithRunID returns a context carrying id as the run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// NewRun returns a context with a freshly generated run id.
func NewRun(ctx context.Context) context.Context {
	return WithRunID(ctx, uuid.NewString())
}

// RunID extracts the run id from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// RunHandler wraps an slog.Handler and adds the run id from the context
// to every record logged with a *Context method.
type RunHandler struct {
	inner slog.Handler
}

func NewRunHandler(inner slog.Handler) *RunHandler {
	return &RunHandler{inner: inner}
}

func (h *RunHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RunHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *RunHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RunHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *RunHandler) WithGroup(name string) slog.Handler {
	return &RunHandler{inner: h.inner.WithGroup(name)}
}

// New returns a text logger writing to w at level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewRunHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
