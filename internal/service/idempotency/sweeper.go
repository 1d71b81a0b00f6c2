package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper purges expired idempotency records on a fixed interval. It only
// deletes rows that are already expired, so it is safe to run alongside
// normal traffic.
type Sweeper struct {
	svc      *Service
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(svc *Service, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, logger: logger, interval: interval}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("idempotency sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idempotency sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.svc.CleanExpired(ctx)
			if err != nil {
				s.logger.Error("idempotency sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("idempotency sweep", "purged", n)
			}
		}
	}
}
