package middleware

import (
	"bytes"
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ordlink/ordercore/internal/handler"
	"github.com/ordlink/ordercore/internal/logging"
	"github.com/ordlink/ordercore/internal/service/idempotency"
)

type idempotencyService interface {
	Begin(ctx context.Context, key, scope string) (*idempotency.Cached, error)
	Complete(ctx context.Context, key, scope string, statusCode int, body []byte) error
}

// Idempotency replays the recorded outcome of a completed request carrying
// the same Idempotency-Key. The scope is the route template, so the same key
// may be reused across different operations without colliding.
func Idempotency(svc idempotencyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				handler.RespondAppError(w, handler.ErrInvalidIdempotencyKey, nil)
				return
			}

			scope := r.Method + " " + r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					scope = r.Method + " " + tmpl
				}
			}

			cached, err := svc.Begin(r.Context(), key, scope)
			if err != nil {
				log := logging.FromContext(r.Context())
				log.Error("idempotency lookup failed", "error", err, "idempotency_key", key)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}

			if cached != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				if _, err := w.Write(cached.Body); err != nil {
					log := logging.FromContext(r.Context())
					log.Error("failed to write idempotent replay", "error", err, "idempotency_key", key)
				}
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// 5xx outcomes are not recorded: the caller should be able to
			// retry a server failure with the same key.
			if rec.statusCode >= http.StatusInternalServerError {
				return
			}

			if err := svc.Complete(r.Context(), key, scope, rec.statusCode, rec.body.Bytes()); err != nil {
				log := logging.FromContext(r.Context())
				log.Error("idempotency record store failed", "error", err, "idempotency_key", key)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
