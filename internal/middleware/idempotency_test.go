package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/handler"
	"github.com/ordlink/ordercore/internal/service/idempotency"
)

type stubIdempotencyStore struct {
	records   map[string]*idempotency.Cached
	completed int
}

func newStubIdempotencyStore() *stubIdempotencyStore {
	return &stubIdempotencyStore{records: make(map[string]*idempotency.Cached)}
}

func (s *stubIdempotencyStore) Begin(_ context.Context, key, scope string) (*idempotency.Cached, error) {
	return s.records[key+"|"+scope], nil
}

func (s *stubIdempotencyStore) Complete(_ context.Context, key, scope string, statusCode int, body []byte) error {
	s.completed++
	s.records[key+"|"+scope] = &idempotency.Cached{StatusCode: statusCode, Body: body}
	return nil
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	store := newStubIdempotencyStore()

	var calls int
	wrapped := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, calls)
	}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Idempotency-Key", "order-42")
	wrapped.ServeHTTP(first, req)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, store.completed)
	assert.Empty(t, first.Header().Get("X-Idempotent-Replayed"))

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Idempotency-Key", "order-42")
	wrapped.ServeHTTP(second, req)

	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, 1, calls, "a replayed request must not re-execute the operation")
	assert.Equal(t, 1, store.completed)
}

func TestIdempotency_MissingKey(t *testing.T) {
	store := newStubIdempotencyStore()

	var calls int
	wrapped := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_IDEMPOTENCY_KEY")
	assert.Zero(t, calls)
}

func TestIdempotency_InvalidKey(t *testing.T) {
	store := newStubIdempotencyStore()

	var calls int
	wrapped := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for _, key := range []string{"has spaces", strings.Repeat("x", 121)} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set("Idempotency-Key", key)
		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_IDEMPOTENCY_KEY")
	}
	assert.Zero(t, calls)
}

func TestIdempotency_SkipsReadRequests(t *testing.T) {
	store := newStubIdempotencyStore()

	var calls int
	wrapped := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
	assert.Zero(t, store.completed)
}

func TestIdempotency_ServerErrorsAreNotRecorded(t *testing.T) {
	store := newStubIdempotencyStore()

	var calls int
	wrapped := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set("Idempotency-Key", "order-42")
		wrapped.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	// Server failures stay retryable with the same key.
	assert.Equal(t, 2, calls)
	assert.Zero(t, store.completed)
}

type countingInboundRepo struct {
	created int
}

func (r *countingInboundRepo) Create(_ context.Context, _ *domain.InboundEvent) error {
	r.created++
	return nil
}

func signSourceEvent(body, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// A retried webhook delivery with the same Idempotency-Key must replay the
// original ack without touching signature verification or storage again.
func TestIdempotency_WebhookDeliveryReplaysAck(t *testing.T) {
	const secret = "source-secret"
	repo := &countingInboundRepo{}
	store := newStubIdempotencyStore()

	wh := handler.NewWebhookHandler(repo, secret, 5*time.Minute)
	wrapped := Idempotency(store)(http.HandlerFunc(wh.ReceiveSourceEvent))

	body, err := json.Marshal(map[string]any{
		"event_type": "order.cancelled",
		"payload":    map[string]string{"order_id": "7b6ae7a6-5b0c-4b62-9f25-0a1b0e6a9f00"},
	})
	require.NoError(t, err)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	deliver := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/source", strings.NewReader(string(body)))
		req.Header.Set("Idempotency-Key", "delivery-7")
		req.Header.Set("X-Source-Timestamp", ts)
		req.Header.Set("X-Source-Signature", signSourceEvent(string(body), ts, secret))
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	first := deliver()
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, 1, repo.created)

	second := deliver()
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, 1, repo.created, "the event must be stored exactly once")
}
