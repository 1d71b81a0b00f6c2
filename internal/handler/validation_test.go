package handler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fieldNames flattens validation errors so assertions read per-field.
func fieldNames(errs []FieldError) []string {
	names := make([]string, 0, len(errs))
	for _, e := range errs {
		names = append(names, e.Field)
	}
	return names
}

func TestPlaceOrderRequest_Validate(t *testing.T) {
	candidate := uuid.NewString()

	tests := []struct {
		name       string
		req        placeOrderRequest
		wantFields []string
	}{
		{
			name: "valid",
			req:  placeOrderRequest{AccountID: uuid.NewString(), Amount: "250.00", CandidateIDs: []string{candidate}},
		},
		{
			name:       "everything missing",
			req:        placeOrderRequest{},
			wantFields: []string{"account_id", "amount", "candidate_ids"},
		},
		{
			name:       "account_id not a UUID",
			req:        placeOrderRequest{AccountID: "acct-1", Amount: "250.00", CandidateIDs: []string{candidate}},
			wantFields: []string{"account_id"},
		},
		{
			name:       "amount not a decimal",
			req:        placeOrderRequest{AccountID: uuid.NewString(), Amount: "abc", CandidateIDs: []string{candidate}},
			wantFields: []string{"amount"},
		},
		{
			name:       "amount zero",
			req:        placeOrderRequest{AccountID: uuid.NewString(), Amount: "0", CandidateIDs: []string{candidate}},
			wantFields: []string{"amount"},
		},
		{
			name:       "amount negative",
			req:        placeOrderRequest{AccountID: uuid.NewString(), Amount: "-10", CandidateIDs: []string{candidate}},
			wantFields: []string{"amount"},
		},
		{
			name:       "bad candidate id",
			req:        placeOrderRequest{AccountID: uuid.NewString(), Amount: "250.00", CandidateIDs: []string{"vendor-1"}},
			wantFields: []string{"candidate_ids"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.req.Validate()
			if len(tc.wantFields) == 0 {
				assert.Empty(t, errs)
				return
			}
			assert.ElementsMatch(t, tc.wantFields, fieldNames(errs))
		})
	}
}

func TestCreateAccountRequest_Validate(t *testing.T) {
	valid := createAccountRequest{
		PayerRef:        "payer-001",
		CounterpartyRef: "vendor-001",
		CreditLimit:     "10000.00",
		TermDays:        30,
	}

	tests := []struct {
		name       string
		mutate     func(r *createAccountRequest)
		wantFields []string
	}{
		{
			name:   "valid",
			mutate: func(r *createAccountRequest) {},
		},
		{
			name:   "zero credit limit is allowed",
			mutate: func(r *createAccountRequest) { r.CreditLimit = "0" },
		},
		{
			name:       "negative credit limit",
			mutate:     func(r *createAccountRequest) { r.CreditLimit = "-1" },
			wantFields: []string{"credit_limit"},
		},
		{
			name:       "non-decimal credit limit",
			mutate:     func(r *createAccountRequest) { r.CreditLimit = "lots" },
			wantFields: []string{"credit_limit"},
		},
		{
			name:       "missing refs",
			mutate:     func(r *createAccountRequest) { r.PayerRef = ""; r.CounterpartyRef = "" },
			wantFields: []string{"payer_ref", "counterparty_ref"},
		},
		{
			name:       "zero term days",
			mutate:     func(r *createAccountRequest) { r.TermDays = 0 },
			wantFields: []string{"term_days"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			errs := req.Validate()
			if len(tc.wantFields) == 0 {
				assert.Empty(t, errs)
				return
			}
			assert.ElementsMatch(t, tc.wantFields, fieldNames(errs))
		})
	}
}

func TestAppendEntryRequest_Validate(t *testing.T) {
	tests := []struct {
		name       string
		req        appendEntryRequest
		wantFields []string
	}{
		{
			name: "credit",
			req:  appendEntryRequest{Kind: "CREDIT", Amount: "100.00"},
		},
		{
			name: "adjustment",
			req:  appendEntryRequest{Kind: "ADJUSTMENT", Amount: "100.00"},
		},
		{
			name: "reversal with order reference",
			req: appendEntryRequest{
				Kind:    "REVERSAL",
				Amount:  "100.00",
				OrderID: ptr(uuid.NewString()),
			},
		},
		{
			name:       "debit is not manually appendable",
			req:        appendEntryRequest{Kind: "DEBIT", Amount: "100.00"},
			wantFields: []string{"kind"},
		},
		{
			name:       "unknown kind",
			req:        appendEntryRequest{Kind: "BONUS", Amount: "100.00"},
			wantFields: []string{"kind"},
		},
		{
			name:       "bad order reference",
			req:        appendEntryRequest{Kind: "REVERSAL", Amount: "100.00", OrderID: ptr("ord-1")},
			wantFields: []string{"order_id"},
		},
		{
			name:       "non-positive amount",
			req:        appendEntryRequest{Kind: "CREDIT", Amount: "0"},
			wantFields: []string{"amount"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.req.Validate()
			if len(tc.wantFields) == 0 {
				assert.Empty(t, errs)
				return
			}
			assert.ElementsMatch(t, tc.wantFields, fieldNames(errs))
		})
	}
}

func TestRespondRequest_Validate(t *testing.T) {
	tests := []struct {
		name       string
		req        respondRequest
		wantFields []string
	}{
		{
			name: "accept",
			req:  respondRequest{CandidateID: uuid.NewString(), Decision: "ACCEPT"},
		},
		{
			name: "reject",
			req:  respondRequest{CandidateID: uuid.NewString(), Decision: "REJECT"},
		},
		{
			name:       "lowercase decision",
			req:        respondRequest{CandidateID: uuid.NewString(), Decision: "accept"},
			wantFields: []string{"decision"},
		},
		{
			name:       "missing candidate",
			req:        respondRequest{Decision: "ACCEPT"},
			wantFields: []string{"candidate_id"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.req.Validate()
			if len(tc.wantFields) == 0 {
				assert.Empty(t, errs)
				return
			}
			assert.ElementsMatch(t, tc.wantFields, fieldNames(errs))
		})
	}
}

func ptr[T any](v T) *T { return &v }
