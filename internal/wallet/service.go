package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatloop/chatloop-backend/internal/billing"
	"github.com/chatloop/chatloop-backend/pkg/db"
	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/money"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Fixed namespaces make reserve/commit/release transaction ids a pure
// function of (user, conversation), so a retried call collides on the
// external_id unique index instead of double-applying.
var (
	reserveNamespace = uuid.MustParse("1f4a9d62-8c1e-4a38-9e57-0b2f6a1c9d01")
	debitNamespace   = uuid.MustParse("1f4a9d62-8c1e-4a38-9e57-0b2f6a1c9d02")
	releaseNamespace = uuid.MustParse("1f4a9d62-8c1e-4a38-9e57-0b2f6a1c9d03")
)

// ReleaseReason distinguishes a failed send from a deliberate cancellation;
// it decides the billing record's terminal status.
type ReleaseReason string

const (
	ReleaseReasonSendFailed ReleaseReason = "send_failed"
	ReleaseReasonCancelled  ReleaseReason = "cancelled"
)

// RechargeInput describes a direct credit, optionally funded by another
// account (typically the system account).
type RechargeInput struct {
	UserID          uuid.UUID
	Amount          money.Money
	SourceAccountID *uuid.UUID
	Details         string
	// Reference, when set, makes the recharge idempotent under retries.
	Reference string
}

// BalanceSnapshot is an unlocked point-in-time read of one account.
type BalanceSnapshot struct {
	AccountID uuid.UUID
	Balance   int64
	Suspense  int64
	Currency  enums.Currency
}

// Ledger applies atomic balance mutations. Every mutation runs inside one
// database transaction under an exclusive lock on the account row and appends
// exactly one transaction row per effect; any failure rolls the whole
// operation back.
type Ledger interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.WalletAccount, error)
	Reserve(ctx context.Context, userID uuid.UUID, conversationID string, amount money.Money) (*models.WalletTransaction, error)
	Commit(ctx context.Context, userID uuid.UUID, conversationID string) (*models.WalletTransaction, error)
	Release(ctx context.Context, userID uuid.UUID, conversationID string, reason ReleaseReason) (*models.WalletTransaction, error)
	Recharge(ctx context.Context, input RechargeInput) (*models.WalletTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (*BalanceSnapshot, error)
}

type ledger struct {
	client          *db.Client
	repo            Repository
	billingStore    billing.Store
	logg            *logger.Logger
	defaultCurrency enums.Currency
}

// NewLedger wires the wallet ledger.
func NewLedger(client *db.Client, repo Repository, billingStore billing.Store, logg *logger.Logger, defaultCurrency enums.Currency) (Ledger, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if billingStore == nil {
		return nil, fmt.Errorf("billing store required")
	}
	if !defaultCurrency.IsValid() {
		return nil, fmt.Errorf("invalid default currency %q", defaultCurrency)
	}
	return &ledger{
		client:          client,
		repo:            repo,
		billingStore:    billingStore,
		logg:            logg,
		defaultCurrency: defaultCurrency,
	}, nil
}

func reserveExternalID(userID uuid.UUID, conversationID string) string {
	return "reserve:" + uuid.NewSHA1(reserveNamespace, []byte(userID.String()+":"+conversationID)).String()
}

func debitExternalID(userID uuid.UUID, conversationID string) string {
	return "debit:" + uuid.NewSHA1(debitNamespace, []byte(userID.String()+":"+conversationID)).String()
}

func releaseExternalID(userID uuid.UUID, conversationID string) string {
	return "release:" + uuid.NewSHA1(releaseNamespace, []byte(userID.String()+":"+conversationID)).String()
}

// GetOrCreate lazily creates a zero-balance account on first access. A
// concurrent create losing the unique-index race falls back to re-reading
// the winner's row.
func (l *ledger) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.WalletAccount, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	account, err := l.repo.FindAccountByUserID(ctx, userID, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup wallet account")
	}
	if account != nil {
		return account, nil
	}

	uid := userID
	account = &models.WalletAccount{
		ID:       uuid.New(),
		UserID:   &uid,
		Kind:     enums.WalletAccountKindUser,
		Currency: l.defaultCurrency,
	}
	if err := l.repo.CreateAccount(ctx, account); err != nil {
		if db.IsUniqueViolation(err, "user_id") {
			existing, findErr := l.repo.FindAccountByUserID(ctx, userID, false)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "re-read wallet account")
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet account")
	}
	return account, nil
}

func (l *ledger) getOrCreateLocked(ctx context.Context, repo Repository, userID uuid.UUID) (*models.WalletAccount, error) {
	account, err := repo.FindAccountByUserID(ctx, userID, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet account")
	}
	if account != nil {
		return account, nil
	}
	uid := userID
	account = &models.WalletAccount{
		ID:       uuid.New(),
		UserID:   &uid,
		Kind:     enums.WalletAccountKindUser,
		Currency: l.defaultCurrency,
	}
	if err := repo.CreateAccount(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet account")
	}
	return account, nil
}

// Reserve moves amount from balance into suspense pending the send outcome.
// A repeat call for an already-reserved conversation returns the recorded
// transaction without touching balances.
func (l *ledger) Reserve(ctx context.Context, userID uuid.UUID, conversationID string, amount money.Money) (*models.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "conversation id is required")
	}
	if err := amount.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reserve amount")
	}

	externalID := reserveExternalID(userID, conversationID)
	var out *models.WalletTransaction
	err := l.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)

		existing, err := repo.FindTransactionByExternalID(ctx, externalID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup reserve transaction")
		}
		if existing != nil {
			out = existing
			return nil
		}

		account, err := l.getOrCreateLocked(ctx, repo, userID)
		if err != nil {
			return err
		}
		if account.Currency != amount.Currency {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("currency mismatch: account holds %s, reserve requested %s", account.Currency, amount.Currency))
		}
		if account.Balance-amount.AmountMinor < 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds,
				fmt.Sprintf("balance %d cannot cover reservation of %d", account.Balance, amount.AmountMinor))
		}

		newBalance := account.Balance - amount.AmountMinor
		newSuspense := account.SuspenseBalance + amount.AmountMinor
		if err := repo.UpdateBalances(ctx, account.ID, newBalance, newSuspense); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balances")
		}

		txn := &models.WalletTransaction{
			ID:            uuid.New(),
			AccountID:     account.ID,
			UserID:        account.UserID,
			ExternalID:    externalID,
			Type:          enums.WalletTransactionTypeReserve,
			Amount:        amount.AmountMinor,
			Currency:      amount.Currency,
			BalanceAfter:  newBalance,
			SuspenseAfter: newSuspense,
			Status:        enums.WalletTransactionStatusCompleted,
			Details:       "reserved for conversation " + conversationID,
		}
		if err := repo.AppendTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append reserve transaction")
		}
		out = txn
		return nil
	})
	if err != nil {
		// A concurrent reserve for the same conversation won the external-id
		// race; its recorded outcome is the answer.
		if db.IsUniqueViolation(err, "external_id") {
			return l.findRecorded(ctx, externalID)
		}
		return nil, err
	}
	return out, nil
}

// Commit charges a prior reservation: the amount recorded at reserve time
// leaves suspense for good and the billing record flips to paid.
func (l *ledger) Commit(ctx context.Context, userID uuid.UUID, conversationID string) (*models.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "conversation id is required")
	}

	externalID := debitExternalID(userID, conversationID)
	var out *models.WalletTransaction
	err := l.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)

		existing, err := repo.FindTransactionByExternalID(ctx, externalID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup debit transaction")
		}
		if existing != nil {
			out = existing
			return nil
		}

		reserveTxn, err := l.settleableReservation(ctx, tx, repo, userID, conversationID)
		if err != nil {
			return err
		}

		account, err := repo.FindAccountByID(ctx, reserveTxn.AccountID, true)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "wallet account not found")
		}
		if account.SuspenseBalance-reserveTxn.Amount < 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "suspense below reserved amount")
		}

		newSuspense := account.SuspenseBalance - reserveTxn.Amount
		if err := repo.UpdateBalances(ctx, account.ID, account.Balance, newSuspense); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balances")
		}

		txn := &models.WalletTransaction{
			ID:            uuid.New(),
			AccountID:     account.ID,
			UserID:        account.UserID,
			ExternalID:    externalID,
			Type:          enums.WalletTransactionTypeDebit,
			Amount:        reserveTxn.Amount,
			Currency:      reserveTxn.Currency,
			BalanceAfter:  account.Balance,
			SuspenseAfter: newSuspense,
			Status:        enums.WalletTransactionStatusCompleted,
			Details:       "charged for conversation " + conversationID,
		}
		if err := repo.AppendTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append debit transaction")
		}
		if err := l.billingStore.WithTx(tx).MarkStatus(ctx, userID, conversationID, enums.BillingRecordStatusPaid); err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "external_id") {
			return l.findRecorded(ctx, externalID)
		}
		return nil, err
	}
	return out, nil
}

// Release refunds a prior reservation from suspense back into balance. The
// billing record becomes failed or released depending on the reason.
func (l *ledger) Release(ctx context.Context, userID uuid.UUID, conversationID string, reason ReleaseReason) (*models.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "conversation id is required")
	}

	recordStatus := enums.BillingRecordStatusReleased
	if reason == ReleaseReasonSendFailed {
		recordStatus = enums.BillingRecordStatusFailed
	}

	externalID := releaseExternalID(userID, conversationID)
	var out *models.WalletTransaction
	err := l.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)

		existing, err := repo.FindTransactionByExternalID(ctx, externalID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup release transaction")
		}
		if existing != nil {
			out = existing
			return nil
		}

		reserveTxn, err := l.settleableReservation(ctx, tx, repo, userID, conversationID)
		if err != nil {
			return err
		}

		account, err := repo.FindAccountByID(ctx, reserveTxn.AccountID, true)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "wallet account not found")
		}
		if account.SuspenseBalance-reserveTxn.Amount < 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "suspense below reserved amount")
		}

		newBalance := account.Balance + reserveTxn.Amount
		newSuspense := account.SuspenseBalance - reserveTxn.Amount
		if err := repo.UpdateBalances(ctx, account.ID, newBalance, newSuspense); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balances")
		}

		txn := &models.WalletTransaction{
			ID:            uuid.New(),
			AccountID:     account.ID,
			UserID:        account.UserID,
			ExternalID:    externalID,
			Type:          enums.WalletTransactionTypeRelease,
			Amount:        reserveTxn.Amount,
			Currency:      reserveTxn.Currency,
			BalanceAfter:  newBalance,
			SuspenseAfter: newSuspense,
			Status:        enums.WalletTransactionStatusCompleted,
			Details:       fmt.Sprintf("released for conversation %s (%s)", conversationID, reason),
		}
		if err := repo.AppendTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append release transaction")
		}
		if err := l.billingStore.WithTx(tx).MarkStatus(ctx, userID, conversationID, recordStatus); err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "external_id") {
			return l.findRecorded(ctx, externalID)
		}
		return nil, err
	}
	return out, nil
}

// settleableReservation resolves the RESERVE row a commit or release settles
// against. A missing billing record means the conversation is unknown; a
// known conversation with no reservation is an incompatible state transition.
// A reservation already settled the other way is a conflict too.
func (l *ledger) settleableReservation(ctx context.Context, tx *gorm.DB, repo Repository, userID uuid.UUID, conversationID string) (*models.WalletTransaction, error) {
	reserveTxn, err := repo.FindTransactionByExternalID(ctx, reserveExternalID(userID, conversationID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup reserve transaction")
	}
	if reserveTxn == nil {
		record, err := l.billingStore.WithTx(tx).Find(ctx, userID, conversationID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown conversation")
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "conversation has no reservation to settle")
	}

	debitTxn, err := repo.FindTransactionByExternalID(ctx, debitExternalID(userID, conversationID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup debit transaction")
	}
	releaseTxn, err := repo.FindTransactionByExternalID(ctx, releaseExternalID(userID, conversationID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup release transaction")
	}
	if debitTxn != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already committed")
	}
	if releaseTxn != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already released")
	}
	return reserveTxn, nil
}

// Recharge credits balance directly; suspense is never touched. When funded
// by a source account both rows lock in ascending account-id order and the
// whole operation aborts if the source cannot cover the amount.
func (l *ledger) Recharge(ctx context.Context, input RechargeInput) (*models.WalletTransaction, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := input.Amount.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid recharge amount")
	}
	if input.Amount.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recharge amount must be positive")
	}

	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}
	externalID := "recharge:" + reference

	account, err := l.GetOrCreate(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	var out *models.WalletTransaction
	err = l.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)

		existing, err := repo.FindTransactionByExternalID(ctx, externalID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup recharge transaction")
		}
		if existing != nil {
			out = existing
			return nil
		}

		target, source, err := l.lockRechargeAccounts(ctx, repo, account.ID, input.SourceAccountID)
		if err != nil {
			return err
		}
		if target.Currency != input.Amount.Currency {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("currency mismatch: account holds %s, recharge is %s", target.Currency, input.Amount.Currency))
		}

		if source != nil {
			if source.Currency != input.Amount.Currency {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("currency mismatch: source holds %s, recharge is %s", source.Currency, input.Amount.Currency))
			}
			if source.Balance-input.Amount.AmountMinor < 0 {
				return pkgerrors.New(pkgerrors.CodeInsufficientFunds,
					fmt.Sprintf("source balance %d cannot fund recharge of %d", source.Balance, input.Amount.AmountMinor))
			}
			newSourceBalance := source.Balance - input.Amount.AmountMinor
			if err := repo.UpdateBalances(ctx, source.ID, newSourceBalance, source.SuspenseBalance); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update source balance")
			}
			sourceTxn := &models.WalletTransaction{
				ID:            uuid.New(),
				AccountID:     source.ID,
				UserID:        source.UserID,
				ExternalID:    "recharge-source:" + reference,
				Type:          enums.WalletTransactionTypeDebit,
				Amount:        input.Amount.AmountMinor,
				Currency:      input.Amount.Currency,
				BalanceAfter:  newSourceBalance,
				SuspenseAfter: source.SuspenseBalance,
				Status:        enums.WalletTransactionStatusCompleted,
				Details:       "funding recharge " + reference,
			}
			if err := repo.AppendTransaction(ctx, sourceTxn); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append source debit")
			}
		}

		newBalance := target.Balance + input.Amount.AmountMinor
		if err := repo.UpdateBalances(ctx, target.ID, newBalance, target.SuspenseBalance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update target balance")
		}
		txn := &models.WalletTransaction{
			ID:            uuid.New(),
			AccountID:     target.ID,
			UserID:        target.UserID,
			ExternalID:    externalID,
			Type:          enums.WalletTransactionTypeCredit,
			Amount:        input.Amount.AmountMinor,
			Currency:      input.Amount.Currency,
			BalanceAfter:  newBalance,
			SuspenseAfter: target.SuspenseBalance,
			Status:        enums.WalletTransactionStatusCompleted,
			Details:       input.Details,
		}
		if err := repo.AppendTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append credit transaction")
		}
		out = txn
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "external_id") {
			return l.findRecorded(ctx, externalID)
		}
		return nil, err
	}
	return out, nil
}

// lockRechargeAccounts locks the target, and optionally the source, in
// ascending account-id order so two opposing recharges cannot deadlock.
func (l *ledger) lockRechargeAccounts(ctx context.Context, repo Repository, targetID uuid.UUID, sourceID *uuid.UUID) (*models.WalletAccount, *models.WalletAccount, error) {
	if sourceID == nil || *sourceID == targetID {
		target, err := repo.FindAccountByID(ctx, targetID, true)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock target account")
		}
		if target == nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet account not found")
		}
		return target, nil, nil
	}

	first, second := targetID, *sourceID
	if strings.Compare(second.String(), first.String()) < 0 {
		first, second = second, first
	}

	accounts := make(map[uuid.UUID]*models.WalletAccount, 2)
	for _, id := range []uuid.UUID{first, second} {
		account, err := repo.FindAccountByID(ctx, id, true)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		if account == nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("wallet account %s not found", id))
		}
		accounts[id] = account
	}
	return accounts[targetID], accounts[*sourceID], nil
}

// Balance is an unlocked point-in-time read.
func (l *ledger) Balance(ctx context.Context, userID uuid.UUID) (*BalanceSnapshot, error) {
	account, err := l.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceSnapshot{
		AccountID: account.ID,
		Balance:   account.Balance,
		Suspense:  account.SuspenseBalance,
		Currency:  account.Currency,
	}, nil
}

func (l *ledger) findRecorded(ctx context.Context, externalID string) (*models.WalletTransaction, error) {
	txn, err := l.repo.FindTransactionByExternalID(ctx, externalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-read recorded transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction vanished after unique conflict")
	}
	return txn, nil
}
