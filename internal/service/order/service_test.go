package order_test

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/notify"
	"github.com/ordlink/ordercore/internal/repository"
	"github.com/ordlink/ordercore/internal/service/credit"
	"github.com/ordlink/ordercore/internal/service/ledger"
	"github.com/ordlink/ordercore/internal/service/order"
	"github.com/ordlink/ordercore/internal/service/routing"
	"github.com/ordlink/ordercore/internal/testutil"
	"github.com/ordlink/ordercore/internal/txn"
)

func setupOrderService(t *testing.T, db *sql.DB) (*order.Service, *credit.Service) {
	t.Helper()
	mgr := txn.NewManager(db, txn.DefaultRetryPolicy(), time.Second, 5*time.Second)

	accounts := repository.NewCreditAccountRepository(db)
	ledgerSvc := ledger.NewService(repository.NewLedgerRepository(db), accounts, mgr, db)
	creditSvc := credit.NewService(accounts, repository.NewReservationRepository(db), ledgerSvc, mgr)

	orderSvc := order.NewService(
		repository.NewOrderRepository(db),
		repository.NewOrderEventRepository(db),
		creditSvc,
		nil,
		mgr,
		db,
	)
	routingSvc := routing.NewService(
		repository.NewRoutingRepository(db),
		orderSvc,
		notify.NewLogNotifier(slog.Default()),
		mgr,
		db,
	)
	orderSvc.SetBroadcaster(routingSvc)
	return orderSvc, creditSvc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPlace_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, creditSvc := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	candidates := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	o, rec, err := svc.Place(ctx, order.PlaceRequest{
		AccountID:    account.ID,
		Amount:       dec("250"),
		CandidateIDs: candidates,
		PerformedBy:  "ops@test",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusVendorNotified, o.Status)
	assert.Equal(t, domain.RoutingStatusPendingResponses, rec.Status)
	assert.Equal(t, o.ID, rec.OrderID)

	history, err := svc.GetHistory(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.OrderStatusValidated, history[0].ToState)
	assert.Equal(t, domain.OrderStatusCreditReserved, history[1].ToState)
	assert.Equal(t, domain.OrderStatusVendorNotified, history[2].ToState)

	available, err := creditSvc.Available(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("750")), "got %s", available)
}

func TestPlace_InsufficientCreditCommitsNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "100")

	_, _, err := svc.Place(ctx, order.PlaceRequest{
		AccountID:    account.ID,
		Amount:       dec("500"),
		CandidateIDs: []uuid.UUID{uuid.New()},
		PerformedBy:  "ops@test",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCredit)

	var orders int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orders))
	assert.Equal(t, 0, orders, "a failed placement must leave no trace")

	var reservations int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM credit_reservations`).Scan(&reservations))
	assert.Equal(t, 0, reservations)
}

func TestTransition_RejectsIllegalEdge(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	o := testutil.SeedOrder(t, db, account.ID, "100", domain.OrderStatusCreated)

	_, err := svc.Transition(ctx, o.ID, domain.OrderStatusFulfilled, "ops@test", nil)
	require.Error(t, err)

	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.OrderStatusCreated, invalid.From)
	assert.Equal(t, domain.OrderStatusFulfilled, invalid.To)
	assert.Contains(t, invalid.Allowed, domain.OrderStatusValidated)

	assert.Equal(t, domain.OrderStatusCreated, testutil.GetOrderStatus(t, db, o.ID))
}

func TestTransition_TerminalStatesAreImmutable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	o := testutil.SeedOrder(t, db, account.ID, "100", domain.OrderStatusFulfilled)

	for _, to := range []domain.OrderStatus{
		domain.OrderStatusCancelled,
		domain.OrderStatusCreated,
		domain.OrderStatusVendorAccepted,
	} {
		_, err := svc.Transition(ctx, o.ID, to, "ops@test", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "fulfilled order must reject %s", to)
	}
}

func TestFulfill_RequiresReservationInHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")

	// An order forged into VENDOR_ACCEPTED with no CREDIT_RESERVED
	// transition in its log.
	o := &domain.Order{ID: uuid.New(), AccountID: account.ID}
	_, err := db.Exec(
		`INSERT INTO orders (id, account_id, amount, status) VALUES ($1, $2, 100, $3)`,
		o.ID, o.AccountID, domain.OrderStatusVendorAccepted,
	)
	require.NoError(t, err)

	_, err = svc.Fulfill(ctx, o.ID, "ops@test")
	require.Error(t, err)

	var missing *domain.MissingPreconditionError
	require.ErrorAs(t, err, &missing)
	assert.ErrorIs(t, err, domain.ErrMissingPrecondition)
	assert.Equal(t, domain.OrderStatusCreditReserved, missing.Required)

	assert.Equal(t, domain.OrderStatusVendorAccepted, testutil.GetOrderStatus(t, db, o.ID))
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, account.ID))
}

func TestFulfill_SettlesReservation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, creditSvc := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	o := testutil.SeedOrder(t, db, account.ID, "400", domain.OrderStatusVendorAccepted)
	testutil.SeedReservation(t, db, account.ID, o.ID, "400", domain.ReservationStatusActive)

	updated, err := svc.Fulfill(ctx, o.ID, "ops@test")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFulfilled, updated.Status)

	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, account.ID))
	balance := testutil.GetCachedBalance(t, db, account.ID)
	assert.True(t, balance.Equal(dec("400")), "got %s", balance)

	available, err := creditSvc.Available(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("600")))

	// Replay must not double-settle.
	_, err = svc.Fulfill(ctx, o.ID, "ops@test")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, account.ID))
}

func TestCancel_ReleasesReservation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, creditSvc := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	o := testutil.SeedOrder(t, db, account.ID, "400", domain.OrderStatusVendorNotified)
	testutil.SeedReservation(t, db, account.ID, o.ID, "400", domain.ReservationStatusActive)

	updated, err := svc.Cancel(ctx, o.ID, "ops@test", "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, updated.Status)

	available, err := creditSvc.Available(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("1000")), "cancelled order must free its hold")
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, account.ID))
}

func TestCancel_BeforeReservationExists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupOrderService(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	o := testutil.SeedOrder(t, db, account.ID, "400", domain.OrderStatusCreated)

	updated, err := svc.Cancel(ctx, o.ID, "ops@test", "early cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, updated.Status)
}

func TestGetHistory_UnknownOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupOrderService(t, db)

	_, err := svc.GetHistory(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
