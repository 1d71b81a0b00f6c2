package routing_test

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
	"github.com/ordlink/ordercore/internal/service/credit"
	"github.com/ordlink/ordercore/internal/service/ledger"
	"github.com/ordlink/ordercore/internal/service/order"
	"github.com/ordlink/ordercore/internal/service/routing"
	"github.com/ordlink/ordercore/internal/testutil"
	"github.com/ordlink/ordercore/internal/txn"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []uuid.UUID
}

func (n *recordingNotifier) CancellationNotice(_ context.Context, _ uuid.UUID, candidateID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, candidateID)
	return nil
}

func (n *recordingNotifier) notified() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uuid.UUID(nil), n.notices...)
}

func setupRouting(t *testing.T, db *sql.DB) (*routing.Service, *order.Service, *recordingNotifier) {
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
	notifier := &recordingNotifier{}
	routingSvc := routing.NewService(repository.NewRoutingRepository(db), orderSvc, notifier, mgr, db)
	orderSvc.SetBroadcaster(routingSvc)
	return routingSvc, orderSvc, notifier
}

// placeOrder drives the real intake path so the routing under test has a
// legitimate order and reservation behind it.
func placeOrder(t *testing.T, svc *order.Service, accountID uuid.UUID, candidates []uuid.UUID) (*domain.Order, *domain.RoutingRecord) {
	t.Helper()
	o, rec, err := svc.Place(context.Background(), order.PlaceRequest{
		AccountID:    accountID,
		Amount:       decimal.RequireFromString("100"),
		CandidateIDs: candidates,
		PerformedBy:  "test",
	})
	require.NoError(t, err)
	return o, rec
}

func TestAttemptAccept_SingleWinner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	candidates := []uuid.UUID{uuid.New(), uuid.New()}
	o, rec := placeOrder(t, orderSvc, account.ID, candidates)

	won, err := routingSvc.AttemptAccept(ctx, rec.ID, candidates[0])
	require.NoError(t, err)
	assert.Equal(t, domain.RoutingStatusWinnerSelected, won.Status)
	require.NotNil(t, won.WinnerID)
	assert.Equal(t, candidates[0], *won.WinnerID)

	assert.Equal(t, domain.OrderStatusVendorAccepted, testutil.GetOrderStatus(t, db, o.ID))

	_, err = routingSvc.AttemptAccept(ctx, rec.ID, candidates[1])
	require.Error(t, err)

	var already *domain.AlreadyAcceptedError
	require.ErrorAs(t, err, &already)
	assert.ErrorIs(t, err, domain.ErrAlreadyAccepted)
	assert.Equal(t, candidates[0], already.Winner)
}

func TestAttemptAccept_ConcurrentRace(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")

	const contenders = 10
	candidates := make([]uuid.UUID, contenders)
	for i := range candidates {
		candidates[i] = uuid.New()
	}
	o, rec := placeOrder(t, orderSvc, account.ID, candidates)

	var wg sync.WaitGroup
	type outcome struct {
		candidate uuid.UUID
		err       error
	}
	results := make(chan outcome, contenders)

	for _, c := range candidates {
		wg.Add(1)
		go func(candidateID uuid.UUID) {
			defer wg.Done()
			_, err := routingSvc.AttemptAccept(ctx, rec.ID, candidateID)
			results <- outcome{candidate: candidateID, err: err}
		}(c)
	}
	wg.Wait()
	close(results)

	var winner uuid.UUID
	var wins, losses int
	for res := range results {
		if res.err == nil {
			wins++
			winner = res.candidate
			continue
		}
		losses++
		var already *domain.AlreadyAcceptedError
		require.ErrorAs(t, res.err, &already, "losers must learn who won, got %v", res.err)
	}
	assert.Equal(t, 1, wins, "exactly one acceptance can win")
	assert.Equal(t, contenders-1, losses)

	// Every loser saw the same winner.
	final, err := routingSvc.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, final.WinnerID)
	assert.Equal(t, winner, *final.WinnerID)

	assert.Equal(t, domain.OrderStatusVendorAccepted, testutil.GetOrderStatus(t, db, o.ID))
}

func TestAttemptAccept_AfterRejectRecordsAccept(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	candidate := uuid.New()
	_, rec := placeOrder(t, orderSvc, account.ID, []uuid.UUID{candidate})

	require.NoError(t, routingSvc.Respond(ctx, rec.ID, candidate, domain.DecisionReject))

	won, err := routingSvc.AttemptAccept(ctx, rec.ID, candidate)
	require.NoError(t, err)
	require.NotNil(t, won.WinnerID)
	assert.Equal(t, candidate, *won.WinnerID)

	// The winner's recorded decision follows them into the win.
	responses, err := routingSvc.ListResponses(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, domain.DecisionAccept, responses[0].Decision)
}

func TestAttemptAccept_UnknownCandidate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)

	account := testutil.SeedCreditAccount(t, db, "1000")
	_, rec := placeOrder(t, orderSvc, account.ID, []uuid.UUID{uuid.New()})

	_, err := routingSvc.AttemptAccept(context.Background(), rec.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrUnknownCandidate)
}

func TestAttemptAccept_NotifiesLosersAfterCommit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, notifier := setupRouting(t, db)

	account := testutil.SeedCreditAccount(t, db, "1000")
	candidates := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	_, rec := placeOrder(t, orderSvc, account.ID, candidates)

	_, err := routingSvc.AttemptAccept(context.Background(), rec.ID, candidates[1])
	require.NoError(t, err)

	notified := notifier.notified()
	assert.Len(t, notified, 2)
	assert.NotContains(t, notified, candidates[1], "the winner must not get a cancellation notice")
}

func TestRespond_RejectIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	candidates := []uuid.UUID{uuid.New(), uuid.New()}
	_, rec := placeOrder(t, orderSvc, account.ID, candidates)

	require.NoError(t, routingSvc.Respond(ctx, rec.ID, candidates[0], domain.DecisionReject))
	require.NoError(t, routingSvc.Respond(ctx, rec.ID, candidates[0], domain.DecisionReject))

	responses, err := routingSvc.ListResponses(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, responses, 1)
}

func TestRespond_IdenticalResponseAfterCloseIsNoOp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	candidates := []uuid.UUID{uuid.New(), uuid.New()}
	_, rec := placeOrder(t, orderSvc, account.ID, candidates)

	require.NoError(t, routingSvc.Respond(ctx, rec.ID, candidates[0], domain.DecisionReject))

	_, err := routingSvc.AttemptAccept(ctx, rec.ID, candidates[1])
	require.NoError(t, err)

	// A duplicate of the recorded decision is tolerated after the close.
	require.NoError(t, routingSvc.Respond(ctx, rec.ID, candidates[0], domain.DecisionReject))

	// A fresh decision is not.
	err = routingSvc.Respond(ctx, rec.ID, candidates[0], domain.DecisionAccept)
	assert.ErrorIs(t, err, domain.ErrRoutingClosed)
}

func TestExpire_FailsOrderAndFreesCredit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	o, rec := placeOrder(t, orderSvc, account.ID, []uuid.UUID{uuid.New()})

	expired, err := routingSvc.Expire(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	assert.Equal(t, domain.OrderStatusFailed, testutil.GetOrderStatus(t, db, o.ID))

	var status domain.ReservationStatus
	require.NoError(t, db.QueryRow(
		`SELECT status FROM credit_reservations WHERE order_id = $1`, o.ID).Scan(&status))
	assert.Equal(t, domain.ReservationStatusReleased, status)

	// Expiring twice, or expiring a decided routing, reports false.
	expired, err = routingSvc.Expire(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestExpire_LosesRaceAgainstAcceptance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	routingSvc, orderSvc, _ := setupRouting(t, db)
	ctx := context.Background()

	account := testutil.SeedCreditAccount(t, db, "1000")
	candidate := uuid.New()
	o, rec := placeOrder(t, orderSvc, account.ID, []uuid.UUID{candidate})

	_, err := routingSvc.AttemptAccept(ctx, rec.ID, candidate)
	require.NoError(t, err)

	expired, err := routingSvc.Expire(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, expired, "a decided routing cannot expire")
	assert.Equal(t, domain.OrderStatusVendorAccepted, testutil.GetOrderStatus(t, db, o.ID))
}
