package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is the header used to propagate request IDs. X-Request-ID
// is what proxies and observability tooling already understand.
const requestIDHeader = "X-Request-ID"

// requestIDKey is the context key for the request ID. Unexported so the only
// way in is through this package.
type requestIDKey struct{}

// RequestIDFromContext returns the request ID stored in ctx, or "" if none.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID stores a request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID ensures every request carries an ID: an incoming X-Request-ID is
// reused, otherwise a fresh UUID is generated. The ID lands in the request
// context, on the response header, and on a request-scoped logger reachable
// via LoggerFromContext.
//
// Mounted after CORS (preflight has to run first) and before auth.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := ContextWithRequestID(r.Context(), id)
		ctx = contextWithLogger(ctx, slog.Default().With("request_id", id))

		// Echo the ID so clients can correlate responses with server logs.
		w.Header().Set(requestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggerKey is the context key for the request-scoped logger.
type loggerKey struct{}

func contextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger, falling back to
// slog.Default when the middleware did not run (tests, background work).
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
