package txn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ordlink/ordercore/internal/logging"
)

// UnitOfWork runs inside a single serializable transaction. It must be safe
// to re-execute from the top: on a transient conflict the manager retries the
// whole callback, never an individual statement. Side effects that are not
// idempotent belong in OnCommit hooks, not in the callback body.
type UnitOfWork func(ctx context.Context, tx *sql.Tx) error

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxElapsed  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxElapsed:  2 * time.Second,
	}
}

type beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type Manager struct {
	db          beginner
	policy      RetryPolicy
	lockTimeout time.Duration
	stmtTimeout time.Duration
}

func NewManager(db beginner, policy RetryPolicy, lockTimeout, stmtTimeout time.Duration) *Manager {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Manager{db: db, policy: policy, lockTimeout: lockTimeout, stmtTimeout: stmtTimeout}
}

// Run executes fn under serializable isolation, retrying the entire unit of
// work on serialization failures and deadlocks with exponential backoff plus
// jitter. Exhausting the attempt count or the elapsed budget surfaces the
// classified conflict error to the caller. On-commit hooks registered by fn
// run exactly once, after the commit that succeeded.
func (m *Manager) Run(ctx context.Context, fn UnitOfWork) error {
	scope := &commitScope{}
	ctx = context.WithValue(ctx, scopeKey{}, scope)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.policy.BaseDelay
	bo.MaxElapsedTime = m.policy.MaxElapsed
	bo.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		scope.reset()

		err = m.attempt(ctx, fn)
		if err == nil {
			scope.fire()
			return nil
		}

		err = Classify(err)
		if !Retryable(err) {
			return err
		}

		txRetries.Inc()
		if attempt >= m.policy.MaxAttempts {
			txExhausted.Inc()
			return err
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			txExhausted.Inc()
			return err
		}

		logging.FromContext(ctx).Debug("retrying unit of work after conflict",
			"attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("Run: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (m *Manager) attempt(ctx context.Context, fn UnitOfWork) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("attempt: begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.applyTimeouts(ctx, tx); err != nil {
		return err
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("attempt: commit: %w", err)
	}
	return nil
}

// SET LOCAL scopes both timeouts to the current transaction, so a stuck lock
// wait surfaces as 55P03 instead of hanging the caller.
func (m *Manager) applyTimeouts(ctx context.Context, tx *sql.Tx) error {
	if m.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", m.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("applyTimeouts: lock_timeout: %w", err)
		}
	}
	if m.stmtTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", m.stmtTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("applyTimeouts: statement_timeout: %w", err)
		}
	}
	return nil
}

type scopeKey struct{}

type commitScope struct {
	hooks []func()
}

func (s *commitScope) reset() { s.hooks = nil }

func (s *commitScope) fire() {
	for _, h := range s.hooks {
		h()
	}
}

// OnCommit defers fn until the surrounding unit of work commits. Hooks from
// attempts that rolled back are discarded, so non-idempotent side effects
// (notifications, outbound calls) are emitted at most once. Outside a unit of
// work fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	if scope, ok := ctx.Value(scopeKey{}).(*commitScope); ok {
		scope.hooks = append(scope.hooks, fn)
		return
	}
	fn()
}
