package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditAccount is the credit relationship between one payer and one
// counterparty. Created on the first credit grant, mutated only by
// administrative pause/unpause/limit changes, never deleted while ledger
// entries reference it.
type CreditAccount struct {
	ID              uuid.UUID
	PayerRef        string
	CounterpartyRef string
	CreditLimit     decimal.Decimal
	TermDays        int
	Active          bool
	PausedReason    *string
	CreatedAt       time.Time
}

func (a *CreditAccount) Blocked() bool {
	return !a.Active || a.PausedReason != nil
}
