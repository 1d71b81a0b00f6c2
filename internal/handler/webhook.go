package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/logging"
)

const (
	signatureHeader = "X-Source-Signature"
	timestampHeader = "X-Source-Timestamp"
)

type inboundEventRepo interface {
	Create(ctx context.Context, event *domain.InboundEvent) error
}

// WebhookHandler is the inbound boundary for the upstream event source. It
// verifies a time-bounded HMAC signature, rejects replays, persists the
// event and acknowledges; the state transition itself runs asynchronously.
type WebhookHandler struct {
	events  inboundEventRepo
	secret  string
	maxSkew time.Duration
}

func NewWebhookHandler(events inboundEventRepo, secret string, maxSkew time.Duration) *WebhookHandler {
	return &WebhookHandler{events: events, secret: secret, maxSkew: maxSkew}
}

type webhookEnvelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

var knownEventTypes = map[domain.InboundEventType]bool{
	domain.InboundEventTypeOrderPlaced:    true,
	domain.InboundEventTypeOrderCancelled: true,
	domain.InboundEventTypeOrderFulfilled: true,
}

func (h *WebhookHandler) ReceiveSourceEvent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	// Security checks happen before any transaction begins; failures are
	// logged as security events and never reach the store.
	ts, err := parseTimestamp(r.Header.Get(timestampHeader))
	if err != nil || absDuration(time.Since(ts)) > h.maxSkew {
		log.Warn("webhook timestamp outside accepted window",
			"timestamp", r.Header.Get(timestampHeader), "max_skew", h.maxSkew)
		RespondAppError(w, ErrStaleTimestamp, nil)
		return
	}

	sig := r.Header.Get(signatureHeader)
	if !verifySignature(body, r.Header.Get(timestampHeader), sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Warn("failed to parse webhook envelope", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if !knownEventTypes[domain.InboundEventType(envelope.EventType)] {
		RespondValidationError(w, []FieldError{{Field: "event_type", Message: "unknown event type"}})
		return
	}
	if len(envelope.Payload) == 0 {
		RespondValidationError(w, []FieldError{{Field: "payload", Message: "required"}})
		return
	}

	event := &domain.InboundEvent{
		ID:        uuid.New(),
		EventType: domain.InboundEventType(envelope.EventType),
		Payload:   envelope.Payload,
		Signature: sig,
		EventTS:   ts.UTC(),
		Status:    domain.InboundEventStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.events.Create(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrReplayDetected) {
			log.Warn("webhook replay detected", "event_type", envelope.EventType, "event_ts", ts)
			RespondAppError(w, ErrReplayDetected, nil)
			return
		}
		log.Error("failed to store inbound event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("inbound event accepted",
		"inbound_event_id", event.ID,
		"event_type", event.EventType,
	)

	RespondSuccess(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"event_id": event.ID.String(),
	})
}

// The signature covers timestamp and body together, so the same payload
// re-signed at a different time yields a different (signature, timestamp)
// pair and a captured request cannot be replayed inside the window either.
func verifySignature(body []byte, timestamp, signature, secret string) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func parseTimestamp(raw string) (time.Time, error) {
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
