package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ordlink/ordercore/internal/domain"
)

// Postgres SQLSTATE codes the manager reacts to.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateLockNotAvailable     = "55P03"
	sqlstateQueryCanceled        = "57014"
)

// Classify maps driver-level failures onto the domain error taxonomy. Errors
// it does not recognize pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected:
			return fmt.Errorf("%w: %v", domain.ErrSerializationFailure, err)
		case sqlstateLockNotAvailable:
			return fmt.Errorf("%w: %v", domain.ErrLockTimeout, err)
		case sqlstateQueryCanceled:
			return fmt.Errorf("%w: %v", domain.ErrTransactionTimeout, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransactionTimeout, err)
	}

	return err
}

// Retryable reports whether the whole unit of work should be re-executed.
// Business-rule violations are deterministic and never retried; only
// store-level contention qualifies.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrSerializationFailure) || errors.Is(err, domain.ErrLockTimeout)
}
