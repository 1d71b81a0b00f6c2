package txn_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/testutil"
	"github.com/ordlink/ordercore/internal/txn"
)

func newTestManager(db *sql.DB, maxAttempts int) *txn.Manager {
	return txn.NewManager(db, txn.RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxElapsed:  time.Second,
	}, time.Second, 5*time.Second)
}

func TestRun_RetriesSerializationFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mgr := newTestManager(db, 5)

	attempts := 0
	err := mgr.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		if attempts < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRun_ExhaustsAttempts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mgr := newTestManager(db, 3)

	attempts := 0
	err := mgr.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return &pq.Error{Code: "40001"}
	})

	assert.ErrorIs(t, err, domain.ErrSerializationFailure)
	assert.Equal(t, 3, attempts)
}

func TestRun_DoesNotRetryBusinessErrors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mgr := newTestManager(db, 5)

	attempts := 0
	err := mgr.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return domain.ErrInsufficientCredit
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)
	assert.Equal(t, 1, attempts)
}

func TestRun_RollsBackOnError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mgr := newTestManager(db, 5)

	account := testutil.SeedCreditAccount(t, db, "1000")

	boom := errors.New("boom")
	err := mgr.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE credit_accounts SET credit_limit = 0 WHERE id = $1`, account.ID)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var limit string
	require.NoError(t, db.QueryRow(
		`SELECT credit_limit FROM credit_accounts WHERE id = $1`, account.ID).Scan(&limit))
	assert.Equal(t, "1000.0000", limit)
}

func TestOnCommit_FiresOnceAfterSuccessfulCommit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mgr := newTestManager(db, 5)

	fired := 0
	attempts := 0
	err := mgr.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		txn.OnCommit(ctx, func() { fired++ })
		if attempts < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, fired, "hooks from rolled back attempts must be discarded")
}

func TestOnCommit_DiscardedWhenUnitOfWorkFails(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mgr := newTestManager(db, 2)

	fired := 0
	err := mgr.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		txn.OnCommit(ctx, func() { fired++ })
		return &pq.Error{Code: "40001"}
	})

	assert.ErrorIs(t, err, domain.ErrSerializationFailure)
	assert.Equal(t, 0, fired)
}

func TestOnCommit_RunsImmediatelyOutsideUnitOfWork(t *testing.T) {
	fired := false
	txn.OnCommit(context.Background(), func() { fired = true })
	assert.True(t, fired)
}
