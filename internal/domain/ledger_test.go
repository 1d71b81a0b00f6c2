package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ordlink/ordercore/internal/domain"
)

func TestLedgerEntry_SignedDelta(t *testing.T) {
	amount := decimal.RequireFromString("250.50")

	tests := []struct {
		kind domain.EntryKind
		want string
	}{
		{domain.EntryKindDebit, "250.50"},
		{domain.EntryKindAdjustment, "250.50"},
		{domain.EntryKindCredit, "-250.50"},
		{domain.EntryKindReversal, "-250.50"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := domain.LedgerEntry{Kind: tt.kind, Amount: amount}
			assert.True(t, e.SignedDelta().Equal(decimal.RequireFromString(tt.want)),
				"got %s", e.SignedDelta())
		})
	}
}
