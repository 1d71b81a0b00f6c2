package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
)

func SeedCreditAccount(t *testing.T, db *sql.DB, creditLimit string) *domain.CreditAccount {
	t.Helper()

	a := &domain.CreditAccount{
		ID:              uuid.New(),
		PayerRef:        "payer-" + uuid.NewString()[:8],
		CounterpartyRef: "vendor-" + uuid.NewString()[:8],
		CreditLimit:     decimal.RequireFromString(creditLimit),
		TermDays:        30,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO credit_accounts (id, payer_ref, counterparty_ref, credit_limit, term_days, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.PayerRef, a.CounterpartyRef, a.CreditLimit, a.TermDays, a.Active, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed credit account: %v", err)
	}
	return a
}

func PauseAccount(t *testing.T, db *sql.DB, accountID uuid.UUID, reason string) {
	t.Helper()

	_, err := db.Exec(`UPDATE credit_accounts SET paused_reason = $1 WHERE id = $2`, reason, accountID)
	if err != nil {
		t.Fatalf("pause account %s: %v", accountID, err)
	}
}

// SeedOrder inserts an order in the given state together with the event
// trail that legitimately leads there, so precondition checks against the
// event log behave as they would in production.
func SeedOrder(t *testing.T, db *sql.DB, accountID uuid.UUID, amount string, status domain.OrderStatus) *domain.Order {
	t.Helper()

	now := time.Now().UTC()
	o := &domain.Order{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    decimal.RequireFromString(amount),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := db.Exec(
		`INSERT INTO orders (id, account_id, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.AccountID, o.Amount, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}

	for _, step := range pathTo(status) {
		_, err := db.Exec(
			`INSERT INTO order_events (id, order_id, kind, from_state, to_state, performed_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), o.ID, domain.OrderEventKindStateChange, step.from, step.to, "test", now,
		)
		if err != nil {
			t.Fatalf("seed order event %s -> %s: %v", step.from, step.to, err)
		}
	}

	return o
}

type transition struct {
	from, to domain.OrderStatus
}

// pathTo is the canonical happy path prefix ending at status.
func pathTo(status domain.OrderStatus) []transition {
	path := []domain.OrderStatus{
		domain.OrderStatusCreated,
		domain.OrderStatusValidated,
		domain.OrderStatusCreditReserved,
		domain.OrderStatusVendorNotified,
		domain.OrderStatusVendorAccepted,
		domain.OrderStatusFulfilled,
	}

	var steps []transition
	prev := domain.OrderStatusCreated
	for _, s := range path[1:] {
		if prev == status {
			return steps
		}
		steps = append(steps, transition{from: prev, to: s})
		prev = s
		if s == status {
			return steps
		}
	}
	return steps
}

func SeedReservation(t *testing.T, db *sql.DB, accountID, orderID uuid.UUID, amount string, status domain.ReservationStatus) *domain.CreditReservation {
	t.Helper()

	res := &domain.CreditReservation{
		ID:        uuid.New(),
		AccountID: accountID,
		OrderID:   orderID,
		Amount:    decimal.RequireFromString(amount),
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO credit_reservations (id, account_id, order_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, res.AccountID, res.OrderID, res.Amount, res.Status, res.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	return res
}

func GetCachedBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	var raw sql.NullString
	err := db.QueryRow(
		`SELECT balance_after FROM ledger_entries WHERE account_id = $1 ORDER BY seq DESC LIMIT 1`,
		accountID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero
	}
	if err != nil {
		t.Fatalf("get cached balance %s: %v", accountID, err)
	}
	return decimal.RequireFromString(raw.String)
}

func CountLedgerEntries(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for account %s: %v", accountID, err)
	}
	return count
}

func GetOrderStatus(t *testing.T, db *sql.DB, orderID uuid.UUID) domain.OrderStatus {
	t.Helper()

	var status domain.OrderStatus
	err := db.QueryRow(`SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if err != nil {
		t.Fatalf("get order status %s: %v", orderID, err)
	}
	return status
}

func CountOrderEvents(t *testing.T, db *sql.DB, orderID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM order_events WHERE order_id = $1`, orderID).Scan(&count)
	if err != nil {
		t.Fatalf("count order events for %s: %v", orderID, err)
	}
	return count
}
