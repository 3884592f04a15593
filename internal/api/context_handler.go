package api

import (
	"context"
	"log/slog"
)

// ContextHandler wraps an slog.Handler and stamps every record with values
// carried in the context. Handlers and background services can log through
// slog.InfoContext/ErrorContext and pick up the request_id set by the
// RequestID middleware without threading it through call sites.
//
// Installed once at startup:
//
//	handler := api.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
//	slog.SetDefault(slog.New(handler))
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps inner in a ContextHandler.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds context-derived attributes to the record, then delegates.
func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		record.AddAttrs(slog.String("request_id", reqID))
	}
	return h.inner.Handle(ctx, record)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
