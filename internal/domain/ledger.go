package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryKindDebit      EntryKind = "DEBIT"
	EntryKindCredit     EntryKind = "CREDIT"
	EntryKindAdjustment EntryKind = "ADJUSTMENT"
	EntryKindReversal   EntryKind = "REVERSAL"
)

// LedgerEntry is one immutable row of the financial log. Entries are only
// ever appended; the current balance of an account is the BalanceAfter of
// its most recent entry.
type LedgerEntry struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	OrderID      *uuid.UUID
	Kind         EntryKind
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Note         *string
	CreatedAt    time.Time
}

// SignedDelta is the entry's effect on the outstanding balance. Debits and
// adjustments increase what the payer owes; credits and reversals decrease it.
func (e *LedgerEntry) SignedDelta() decimal.Decimal {
	switch e.Kind {
	case EntryKindCredit, EntryKindReversal:
		return e.Amount.Neg()
	default:
		return e.Amount
	}
}
