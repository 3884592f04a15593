// Package auth provides authentication middleware for the latticed API.
// Deployments use Noop (pass-through) or APIKey (static key).
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// unauthorizedBody matches the API's structured error envelope so clients
// parse auth failures the same way as every other error.
const unauthorizedBody = `{"error":{"code":"UNAUTHORIZED","type":"AUTHENTICATION","message":"missing or invalid API key"}}`

// Noop returns a middleware that passes every request through unchanged.
// This is the default for single-user deployments.
func Noop() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// APIKey returns a middleware that validates requests against a static API
// key read from the "Authorization: Bearer <key>" header. An empty key
// behaves like Noop. GET /health stays exempt so probes keep working, and
// key comparison is constant-time.
func APIKey(key string) func(http.Handler) http.Handler {
	if key == "" {
		return Noop()
	}

	keyBytes := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearerToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), keyBytes) != 1 {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(unauthorizedBody))
}

// extractBearerToken pulls the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
