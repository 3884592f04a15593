package api_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lattice-data/lattice/platform/internal/api"
)

// captureLogs installs a JSON slog handler writing to a buffer, runs fn,
// then restores the previous default logger.
func captureLogs(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	prev := slog.Default()
	slog.SetDefault(slog.New(handler))
	t.Cleanup(func() { slog.SetDefault(prev) })

	fn()

	return buf.String()
}

func TestRequestLogger_200_LogsInfoLevel(t *testing.T) {
	handler := api.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", http.NoBody)
	rec := httptest.NewRecorder()

	output := captureLogs(t, func() {
		handler.ServeHTTP(rec, req)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, output, `"level":"INFO"`)
	assert.Contains(t, output, `"msg":"request completed"`)
	assert.Contains(t, output, `"method":"GET"`)
	assert.Contains(t, output, `"path":"/api/v1/reports"`)
	assert.Contains(t, output, `"status":200`)
}

func TestRequestLogger_400_LogsWarnLevel(t *testing.T) {
	handler := api.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	output := captureLogs(t, func() {
		handler.ServeHTTP(rec, req)
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, output, `"level":"WARN"`)
	assert.Contains(t, output, `"status":400`)
}

func TestRequestLogger_500_LogsErrorLevel(t *testing.T) {
	handler := api.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal error"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions", http.NoBody)
	rec := httptest.NewRecorder()

	output := captureLogs(t, func() {
		handler.ServeHTTP(rec, req)
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, output, `"level":"ERROR"`)
	assert.Contains(t, output, `"status":500`)
}

func TestRequestLogger_ImplicitWriteHeader_Logs200(t *testing.T) {
	handler := api.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles", http.NoBody)
	rec := httptest.NewRecorder()

	output := captureLogs(t, func() {
		handler.ServeHTTP(rec, req)
	})

	assert.Contains(t, output, `"status":200`)
	assert.Contains(t, output, `"response_size":2`)
}

func TestRequestLogger_QuietPaths_SkipLogging(t *testing.T) {
	handler := api.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/health/live", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
			rec := httptest.NewRecorder()

			output := captureLogs(t, func() {
				handler.ServeHTTP(rec, req)
			})

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, output, "probe endpoints should not produce log output")
		})
	}
}

func TestRequestLogger_IncludesRequestID(t *testing.T) {
	handler := api.RequestID(api.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", http.NoBody)
	req.Header.Set("X-Request-ID", "trace-me-42")
	rec := httptest.NewRecorder()

	output := captureLogs(t, func() {
		handler.ServeHTTP(rec, req)
	})

	assert.Contains(t, output, `"request_id":"trace-me-42"`)
}
