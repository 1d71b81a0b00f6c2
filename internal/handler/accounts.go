package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/logging"
	"github.com/ordlink/ordercore/internal/service/account"
)

type accountService interface {
	Create(ctx context.Context, req account.CreateRequest) (*domain.CreditAccount, error)
	GetSummary(ctx context.Context, accountID uuid.UUID) (*account.Summary, error)
	Pause(ctx context.Context, accountID uuid.UUID, reason string) (*domain.CreditAccount, error)
	Unpause(ctx context.Context, accountID uuid.UUID) (*domain.CreditAccount, error)
	UpdateLimit(ctx context.Context, accountID uuid.UUID, limit decimal.Decimal) (*domain.CreditAccount, error)
}

type ledgerService interface {
	AppendCredit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, note *string) (*domain.LedgerEntry, error)
	AppendAdjustment(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reason string) (*domain.LedgerEntry, error)
	AppendReversal(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, note *string) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

type AccountHandler struct {
	accounts accountService
	ledger   ledgerService
}

func NewAccountHandler(accounts accountService, ledger ledgerService) *AccountHandler {
	return &AccountHandler{accounts: accounts, ledger: ledger}
}

type createAccountRequest struct {
	PayerRef        string `json:"payer_ref"`
	CounterpartyRef string `json:"counterparty_ref"`
	CreditLimit     string `json:"credit_limit"`
	TermDays        int    `json:"term_days"`
}

func (r createAccountRequest) Validate() []FieldError {
	var errs []FieldError

	if r.PayerRef == "" {
		errs = append(errs, FieldError{Field: "payer_ref", Message: "required"})
	}
	if r.CounterpartyRef == "" {
		errs = append(errs, FieldError{Field: "counterparty_ref", Message: "required"})
	}

	if r.CreditLimit == "" {
		errs = append(errs, FieldError{Field: "credit_limit", Message: "required"})
	} else if limit, err := decimal.NewFromString(r.CreditLimit); err != nil {
		errs = append(errs, FieldError{Field: "credit_limit", Message: "must be a decimal string"})
	} else if limit.IsNegative() {
		errs = append(errs, FieldError{Field: "credit_limit", Message: "must not be negative"})
	}

	if r.TermDays <= 0 {
		errs = append(errs, FieldError{Field: "term_days", Message: "must be greater than 0"})
	}

	return errs
}

type pauseAccountRequest struct {
	Reason string `json:"reason"`
}

type updateLimitRequest struct {
	CreditLimit string `json:"credit_limit"`
}

func (r updateLimitRequest) Validate() []FieldError {
	var errs []FieldError
	if r.CreditLimit == "" {
		errs = append(errs, FieldError{Field: "credit_limit", Message: "required"})
	} else if limit, err := decimal.NewFromString(r.CreditLimit); err != nil {
		errs = append(errs, FieldError{Field: "credit_limit", Message: "must be a decimal string"})
	} else if limit.IsNegative() {
		errs = append(errs, FieldError{Field: "credit_limit", Message: "must not be negative"})
	}
	return errs
}

type appendEntryRequest struct {
	Kind    string  `json:"kind"`
	Amount  string  `json:"amount"`
	OrderID *string `json:"order_id,omitempty"`
	Note    *string `json:"note,omitempty"`
}

func (r appendEntryRequest) Validate() []FieldError {
	var errs []FieldError

	switch domain.EntryKind(r.Kind) {
	case domain.EntryKindCredit, domain.EntryKindAdjustment, domain.EntryKindReversal:
	case domain.EntryKindDebit:
		errs = append(errs, FieldError{Field: "kind", Message: "debits are created through order fulfillment"})
	default:
		errs = append(errs, FieldError{Field: "kind", Message: "must be CREDIT, ADJUSTMENT, or REVERSAL"})
	}

	if r.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	} else if amt, err := decimal.NewFromString(r.Amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a decimal string"})
	} else if !amt.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if r.OrderID != nil {
		if _, err := uuid.Parse(*r.OrderID); err != nil {
			errs = append(errs, FieldError{Field: "order_id", Message: "must be a valid UUID"})
		}
	}

	return errs
}

type accountDTO struct {
	ID              uuid.UUID       `json:"id"`
	PayerRef        string          `json:"payer_ref"`
	CounterpartyRef string          `json:"counterparty_ref"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	TermDays        int             `json:"term_days"`
	Active          bool            `json:"active"`
	PausedReason    *string         `json:"paused_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type accountSummaryDTO struct {
	accountDTO
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available_credit"`
}

type ledgerEntryDTO struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"account_id"`
	OrderID      *uuid.UUID      `json:"order_id,omitempty"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Note         *string         `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toAccountDTO(a *domain.CreditAccount) accountDTO {
	return accountDTO{
		ID:              a.ID,
		PayerRef:        a.PayerRef,
		CounterpartyRef: a.CounterpartyRef,
		CreditLimit:     a.CreditLimit,
		TermDays:        a.TermDays,
		Active:          a.Active,
		PausedReason:    a.PausedReason,
		CreatedAt:       a.CreatedAt,
	}
}

func toLedgerEntryDTO(e domain.LedgerEntry) ledgerEntryDTO {
	return ledgerEntryDTO{
		ID:           e.ID,
		AccountID:    e.AccountID,
		OrderID:      e.OrderID,
		Kind:         string(e.Kind),
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Note:         e.Note,
		CreatedAt:    e.CreatedAt,
	}
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	limit, _ := decimal.NewFromString(req.CreditLimit)
	a, err := h.accounts.Create(r.Context(), account.CreateRequest{
		PayerRef:        req.PayerRef,
		CounterpartyRef: req.CounterpartyRef,
		CreditLimit:     limit,
		TermDays:        req.TermDays,
	})
	if err != nil {
		log.Warn("account creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/accounts/%s", a.ID))
	RespondSuccess(w, http.StatusCreated, toAccountDTO(a))
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	summary, err := h.accounts.GetSummary(r.Context(), accountID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, accountSummaryDTO{
		accountDTO: toAccountDTO(summary.Account),
		Balance:    summary.Balance,
		Available:  summary.Available,
	})
}

func (h *AccountHandler) Pause(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req pauseAccountRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	a, err := h.accounts.Pause(r.Context(), accountID, req.Reason)
	if err != nil {
		log.Warn("account pause failed", "account_id", accountID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(a))
}

func (h *AccountHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	a, err := h.accounts.Unpause(r.Context(), accountID)
	if err != nil {
		log.Warn("account unpause failed", "account_id", accountID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(a))
}

func (h *AccountHandler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req updateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	limit, _ := decimal.NewFromString(req.CreditLimit)
	a, err := h.accounts.UpdateLimit(r.Context(), accountID, limit)
	if err != nil {
		log.Warn("credit limit update failed", "account_id", accountID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(a))
}

func (h *AccountHandler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req appendEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	amount, _ := decimal.NewFromString(req.Amount)
	var orderID *uuid.UUID
	if req.OrderID != nil {
		id, _ := uuid.Parse(*req.OrderID)
		orderID = &id
	}

	var entry *domain.LedgerEntry
	switch domain.EntryKind(req.Kind) {
	case domain.EntryKindCredit:
		entry, err = h.ledger.AppendCredit(r.Context(), accountID, amount, req.Note)
	case domain.EntryKindAdjustment:
		note := ""
		if req.Note != nil {
			note = *req.Note
		}
		entry, err = h.ledger.AppendAdjustment(r.Context(), accountID, amount, note)
	case domain.EntryKindReversal:
		entry, err = h.ledger.AppendReversal(r.Context(), accountID, amount, orderID, req.Note)
	}
	if err != nil {
		log.Warn("ledger append failed", "account_id", accountID, "kind", req.Kind, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toLedgerEntryDTO(*entry))
}

func (h *AccountHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	limit := parseQueryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := parseQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, total, err := h.ledger.ListEntries(r.Context(), accountID, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLedgerEntryDTO(e))
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"entries": dtos,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *AccountHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	balance, err := h.ledger.Reconcile(r.Context(), accountID)
	if err != nil {
		log.Warn("reconciliation failed", "account_id", accountID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    balance,
		"consistent": true,
	})
}

func parseQueryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
