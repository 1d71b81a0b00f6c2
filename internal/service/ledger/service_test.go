package ledger_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/repository"
	"github.com/ordlink/ordercore/internal/service/ledger"
	"github.com/ordlink/ordercore/internal/testutil"
	"github.com/ordlink/ordercore/internal/txn"
)

func setupLedgerService(t *testing.T, db *sql.DB) *ledger.Service {
	t.Helper()
	mgr := txn.NewManager(db, txn.DefaultRetryPolicy(), time.Second, 5*time.Second)
	return ledger.NewService(
		repository.NewLedgerRepository(db),
		repository.NewCreditAccountRepository(db),
		mgr,
		db,
	)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedger_BalanceEvolution(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "5000")

	balance, err := svc.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "empty ledger must read as zero, got %s", balance)

	debit, err := svc.AppendDebit(ctx, account.ID, dec("1000"), nil)
	require.NoError(t, err)
	assert.True(t, debit.BalanceAfter.Equal(dec("1000")))

	note := "payment received"
	credit, err := svc.AppendCredit(ctx, account.ID, dec("200"), &note)
	require.NoError(t, err)
	assert.True(t, credit.BalanceAfter.Equal(dec("800")))

	debit2, err := svc.AppendDebit(ctx, account.ID, dec("500"), nil)
	require.NoError(t, err)
	assert.True(t, debit2.BalanceAfter.Equal(dec("1300")))

	balance, err = svc.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1300")), "got %s", balance)
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "5000")

	_, err := svc.AppendDebit(ctx, account.ID, dec("0"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.AppendDebit(ctx, account.ID, dec("-10"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, account.ID))
}

func TestLedger_UnknownAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)

	_, err := svc.AppendDebit(context.Background(), uuid.New(), dec("10"), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_ConcurrentAppendsNeverShareABalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "100000")

	const writers = 10
	var wg sync.WaitGroup
	results := make(chan *domain.LedgerEntry, writers)

	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := svc.AppendDebit(ctx, account.ID, dec("100"), nil)
			if err != nil {
				errs <- err
				return
			}
			results <- entry
		}()
	}

	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent append failed: %v", err)
	}

	seen := make(map[string]bool)
	for entry := range results {
		key := entry.BalanceAfter.String()
		assert.False(t, seen[key], "two entries recorded the same balance_after %s", key)
		seen[key] = true
	}

	balance, err := svc.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1000")), "10 debits of 100 must land on 1000, got %s", balance)

	replayed, err := svc.Reconcile(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, replayed.Equal(dec("1000")))
}

func TestLedger_ReconcileDetectsDivergence(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "5000")

	_, err := svc.AppendDebit(ctx, account.ID, dec("300"), nil)
	require.NoError(t, err)

	// Corrupt the cache directly; the append path can never produce this.
	_, err = db.Exec(
		`INSERT INTO ledger_entries (id, account_id, kind, amount, balance_after)
		 VALUES ($1, $2, 'DEBIT', 100, 999)`,
		uuid.New(), account.ID,
	)
	require.NoError(t, err)

	_, err = svc.Reconcile(ctx, account.ID)
	assert.ErrorIs(t, err, domain.ErrLedgerDivergence)
}

func TestLedger_ListEntries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedgerService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "5000")
	for range 5 {
		_, err := svc.AppendDebit(ctx, account.ID, dec("10"), nil)
		require.NoError(t, err)
	}

	entries, total, err := svc.ListEntries(ctx, account.ID, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, entries, 3)

	rest, _, err := svc.ListEntries(ctx, account.ID, 3, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}
