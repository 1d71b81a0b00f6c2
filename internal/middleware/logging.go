package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/ordlink/ordercore/internal/auth"
	"github.com/ordlink/ordercore/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") || strings.HasPrefix(r.URL.Path, "/metrics") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		// Tracing already seeded the context logger with the request id.
		logger := logging.FromContext(r.Context())
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			logger = logger.With("subject", claims.Subject)
			r = r.WithContext(logging.WithLogger(r.Context(), logger))
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
