package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ordlink/ordercore/internal/logging"
)

// mock-source emits signed order events against a running API, the way the
// upstream marketplace would. Useful for exercising the webhook boundary
// locally:
//
//	go run ./cmd/mock-source -event order.placed -account <uuid> -candidates <uuid>,<uuid>
func main() {
	logging.Init("mock-source", "info", os.Getenv("APP_ENV"))

	var (
		target     = flag.String("target", "http://localhost:8080/api/v1/webhooks/source", "webhook endpoint URL")
		secret     = flag.String("secret", os.Getenv("SOURCE_WEBHOOK_SECRET"), "shared HMAC secret")
		eventType  = flag.String("event", "order.placed", "event type to emit")
		accountID  = flag.String("account", "", "credit account id for order.placed")
		amount     = flag.String("amount", "100.00", "order amount for order.placed")
		candidates = flag.String("candidates", "", "comma separated candidate ids for order.placed")
		orderID    = flag.String("order", "", "order id for order.fulfilled and order.cancelled")
		reason     = flag.String("reason", "cancelled upstream", "reason for order.cancelled")
		idemKey    = flag.String("idempotency-key", fmt.Sprintf("mock-source:%d", time.Now().UnixNano()), "delivery idempotency key")
	)
	flag.Parse()

	if *secret == "" {
		slog.Error("missing HMAC secret, set -secret or SOURCE_WEBHOOK_SECRET")
		os.Exit(1)
	}

	payload, err := buildPayload(*eventType, *accountID, *amount, *candidates, *orderID, *reason)
	if err != nil {
		slog.Error("failed to build payload", "error", err)
		os.Exit(1)
	}

	body, err := json.Marshal(map[string]any{
		"event_type": *eventType,
		"payload":    payload,
	})
	if err != nil {
		slog.Error("failed to marshal event", "error", err)
		os.Exit(1)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)

	req, err := http.NewRequest(http.MethodPost, *target, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build request", "error", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source-Timestamp", ts)
	req.Header.Set("X-Source-Signature", sign(body, ts, *secret))
	req.Header.Set("Idempotency-Key", *idemKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Error("request failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	slog.Info("event delivered",
		"event_type", *eventType,
		"status", resp.StatusCode,
		"response", string(respBody),
	)
}

func buildPayload(eventType, accountID, amount, candidates, orderID, reason string) (map[string]any, error) {
	switch eventType {
	case "order.placed":
		if accountID == "" || candidates == "" {
			return nil, fmt.Errorf("order.placed requires -account and -candidates")
		}
		return map[string]any{
			"account_id":    accountID,
			"amount":        amount,
			"candidate_ids": splitCSV(candidates),
		}, nil
	case "order.fulfilled", "order.cancelled":
		if orderID == "" {
			return nil, fmt.Errorf("%s requires -order", eventType)
		}
		p := map[string]any{"order_id": orderID}
		if eventType == "order.cancelled" {
			p["reason"] = reason
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sign(body []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
