package idempotency

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/repository"
)

// Keys are caller-supplied tokens; bound the length and character set so they
// are safe to index and log.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,120}$`)

func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("ValidateKey: %w", domain.ErrInvalidIdempotencyKey)
	}
	return nil
}

type recordRepo interface {
	Get(ctx context.Context, key, scope string) (*repository.IdempotencyRecord, error)
	Set(ctx context.Context, rec *repository.IdempotencyRecord) error
	CleanExpired(ctx context.Context) (int64, error)
}

// Cached is a previously completed operation's outcome, replayed instead of
// re-executing the operation.
type Cached struct {
	StatusCode int
	Body       []byte
}

type Service struct {
	records recordRepo
	ttl     time.Duration
}

func NewService(records recordRepo, ttl time.Duration) *Service {
	return &Service{records: records, ttl: ttl}
}

// Begin returns the cached outcome for (key, scope) if one exists and has not
// expired, or nil when the caller should execute the operation.
func (s *Service) Begin(ctx context.Context, key, scope string) (*Cached, error) {
	if err := ValidateKey(key); err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}

	rec, err := s.records.Get(ctx, key, scope)
	if err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	replayHits.Inc()
	return &Cached{StatusCode: rec.StatusCode, Body: rec.ResponseBody}, nil
}

// Complete caches the operation's outcome. First writer wins on a concurrent
// duplicate, so both callers replay one response afterwards.
func (s *Service) Complete(ctx context.Context, key, scope string, statusCode int, body []byte) error {
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("Complete: %w", err)
	}

	now := time.Now().UTC()
	rec := &repository.IdempotencyRecord{
		Key:          key,
		Scope:        scope,
		StatusCode:   statusCode,
		ResponseBody: body,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.records.Set(ctx, rec); err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	return nil
}

func (s *Service) CleanExpired(ctx context.Context) (int64, error) {
	return s.records.CleanExpired(ctx)
}
