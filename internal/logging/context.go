package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	branchKey
	toolKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithBranch returns a context with the active branch set.
func WithBranch(ctx context.Context, branch string) context.Context {
	return context.WithValue(ctx, branchKey, branch)
}

// WithTool returns a context with the executing tool name set.
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, toolKey, tool)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// Branch extracts the active branch from the context, or "" if absent.
func Branch(ctx context.Context) string {
	v, _ := ctx.Value(branchKey).(string)
	return v
}

// ToolName extracts the executing tool name from the context, or "" if absent.
func ToolName(ctx context.Context) string {
	v, _ := ctx.Value(toolKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting run
// correlation IDs from the context into every log record. Use with
// slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	if v := Branch(ctx); v != "" {
		r.AddAttrs(slog.String("branch", v))
	}
	if v := ToolName(ctx); v != "" {
		r.AddAttrs(slog.String("tool", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
