package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatloop/chatloop-backend/api/middleware"
	"github.com/chatloop/chatloop-backend/api/responses"
	"github.com/chatloop/chatloop-backend/api/validators"
	"github.com/chatloop/chatloop-backend/internal/charging"
	"github.com/chatloop/chatloop-backend/internal/wallet"
	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/money"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxDetailsLength    = 500
)

func userFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	uid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return uid, nil
}

type balanceResponse struct {
	AccountID         uuid.UUID      `json:"account_id"`
	BalanceMinorUnits int64          `json:"balance_minor_units"`
	SuspenseMinor     int64          `json:"suspense_minor_units"`
	Currency          enums.Currency `json:"currency"`
	BalanceDisplay    string         `json:"balance_display"`
}

func balanceResponseFromSnapshot(s *wallet.BalanceSnapshot) balanceResponse {
	return balanceResponse{
		AccountID:         s.AccountID,
		BalanceMinorUnits: s.Balance,
		SuspenseMinor:     s.Suspense,
		Currency:          s.Currency,
		BalanceDisplay:    money.New(s.Balance, s.Currency).Display(),
	}
}

// WalletBalance returns the caller's balance and suspense sub-balance.
func WalletBalance(svc charging.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "charging service unavailable"))
			return
		}

		uid, err := userFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.GetBalance(r.Context(), uid)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, balanceResponseFromSnapshot(snapshot))
	}
}

type transactionResponse struct {
	ID            uuid.UUID                     `json:"id"`
	Type          enums.WalletTransactionType   `json:"type"`
	Status        enums.WalletTransactionStatus `json:"status"`
	AmountMinor   int64                         `json:"amount_minor_units"`
	AmountDisplay string                        `json:"amount_display"`
	Currency      enums.Currency                `json:"currency"`
	BalanceAfter  int64                         `json:"balance_after"`
	SuspenseAfter int64                         `json:"suspense_after"`
	Details       string                        `json:"details,omitempty"`
	CreatedAt     time.Time                     `json:"created_at"`
}

func transactionResponseFromModel(m models.WalletTransaction) transactionResponse {
	return transactionResponse{
		ID:            m.ID,
		Type:          m.Type,
		Status:        m.Status,
		AmountMinor:   m.Amount,
		AmountDisplay: money.New(m.Amount, m.Currency).Display(),
		Currency:      m.Currency,
		BalanceAfter:  m.BalanceAfter,
		SuspenseAfter: m.SuspenseAfter,
		Details:       m.Details,
		CreatedAt:     m.CreatedAt,
	}
}

type transactionListResponse struct {
	Items  []transactionResponse `json:"items"`
	Cursor string                `json:"cursor,omitempty"`
}

// WalletTransactions lists the caller's transaction history, newest first,
// with keyset cursor paging.
func WalletTransactions(reader wallet.Reader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet reader unavailable"))
			return
		}

		uid, err := userFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		page, err := reader.ListHistory(r.Context(), uid, limit, cursor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := transactionListResponse{
			Items:  make([]transactionResponse, 0, len(page.Items)),
			Cursor: page.Cursor,
		}
		for _, item := range page.Items {
			resp.Items = append(resp.Items, transactionResponseFromModel(item))
		}

		responses.WriteSuccess(w, resp)
	}
}

type rechargeRequest struct {
	AmountMinorUnits int64  `json:"amount_minor_units" validate:"required,gt=0"`
	Currency         string `json:"currency" validate:"required"`
	SourceAccountID  string `json:"source_account_id"`
	Details          string `json:"details"`
	Reference        string `json:"reference"`
}

func (req rechargeRequest) toInput(userID uuid.UUID) (charging.CreditInput, error) {
	currency, err := enums.ParseCurrency(strings.TrimSpace(req.Currency))
	if err != nil {
		return charging.CreditInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}

	input := charging.CreditInput{
		UserID:    userID,
		Amount:    money.New(req.AmountMinorUnits, currency),
		Details:   validators.SanitizeString(req.Details, maxDetailsLength),
		Reference: strings.TrimSpace(req.Reference),
	}

	if raw := strings.TrimSpace(req.SourceAccountID); raw != "" {
		sourceID, err := uuid.Parse(raw)
		if err != nil {
			return charging.CreditInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source_account_id")
		}
		input.SourceAccountID = &sourceID
	}

	return input, nil
}

// WalletRecharge credits the caller's balance, optionally debiting a source
// account. A client-supplied reference makes retries idempotent.
func WalletRecharge(svc charging.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "charging service unavailable"))
			return
		}

		uid, err := userFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload rechargeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput(uid)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Credit(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, transactionResponseFromModel(*txn))
	}
}
