package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Notifier is the boundary to the external messaging collaborator. The core
// emits typed domain results through it and never formats human-facing
// content itself.
type Notifier interface {
	CancellationNotice(ctx context.Context, orderID, candidateID uuid.UUID) error
}

// LogNotifier records notices to the log. It stands in for the real
// messaging integration in development and tests.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) CancellationNotice(_ context.Context, orderID, candidateID uuid.UUID) error {
	n.logger.Info("cancellation notice",
		"order_id", orderID,
		"candidate_id", candidateID,
	)
	return nil
}
