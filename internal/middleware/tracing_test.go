package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordlink/ordercore/internal/logging"
)

func TestTracing_GeneratesRequestID(t *testing.T) {
	var seen string
	wrapped := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		// The context logger is request-scoped, not the process default.
		assert.NotSame(t, slog.Default(), logging.FromContext(r.Context()))
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	require.NotEmpty(t, seen)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestTracing_PropagatesCallerRequestID(t *testing.T) {
	var seen string
	wrapped := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("X-Request-ID", "upstream-trace-1")
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-trace-1", seen)
	assert.Equal(t, "upstream-trace-1", rec.Header().Get("X-Request-ID"))
}
