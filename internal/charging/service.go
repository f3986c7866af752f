package charging

import (
	"context"
	"fmt"
	"time"

	"github.com/chatloop/chatloop-backend/internal/billing"
	"github.com/chatloop/chatloop-backend/internal/pricing"
	"github.com/chatloop/chatloop-backend/internal/wallet"
	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/metrics"
	"github.com/chatloop/chatloop-backend/pkg/money"
	"github.com/google/uuid"
)

// ReserveStatus is the caller-facing branch of a reservation attempt.
// InsufficientFunds is an expected outcome, not a fault: the send workflow
// decides whether to fail open or closed.
type ReserveStatus string

const (
	ReserveStatusReserved          ReserveStatus = "reserved"
	ReserveStatusInsufficientFunds ReserveStatus = "insufficient_funds"
)

// ReserveOutcome reports what a reservation attempt did.
type ReserveOutcome struct {
	Status      ReserveStatus
	Transaction *models.WalletTransaction
}

// SettleOutcome reports a commit or release.
type SettleOutcome struct {
	Outcome     string
	Transaction *models.WalletTransaction
}

// RecordAttemptInput identifies one send attempt to reconcile.
type RecordAttemptInput struct {
	UserID         uuid.UUID
	ConversationID string
	Category       enums.ConversationCategory
	Recipient      string
	CountryCode    string
	WindowStart    time.Time
	WindowEnd      time.Time
}

// CreditInput is a direct balance top-up.
type CreditInput struct {
	UserID          uuid.UUID
	Amount          money.Money
	SourceAccountID *uuid.UUID
	Details         string
	Reference       string
}

// Service is the billing engine's surface for request handlers and the send
// workflow: pricing, attempt recording, reservation, settlement, and reads.
type Service interface {
	PriceForSend(ctx context.Context, userID uuid.UUID, category enums.ConversationCategory, countryCode string) (money.Money, error)
	RecordAttempt(ctx context.Context, input RecordAttemptInput) (uuid.UUID, error)
	ReserveFunds(ctx context.Context, userID uuid.UUID, conversationID string, amount money.Money) (*ReserveOutcome, error)
	SettleSuccess(ctx context.Context, userID uuid.UUID, conversationID string) (*SettleOutcome, error)
	SettleFailure(ctx context.Context, userID uuid.UUID, conversationID string) (*SettleOutcome, error)
	Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*wallet.BalanceSnapshot, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) (*wallet.Page, error)
}

type service struct {
	pricer       pricing.Service
	billingStore billing.Store
	ledger       wallet.Ledger
	reader       wallet.Reader
	events       EventPublisher
	metrics      *metrics.WalletMetrics
	logg         *logger.Logger
}

// NewService wires the charging facade. Events and metrics are optional.
func NewService(pricer pricing.Service, billingStore billing.Store, ledger wallet.Ledger, reader wallet.Reader, events EventPublisher, walletMetrics *metrics.WalletMetrics, logg *logger.Logger) (Service, error) {
	if pricer == nil {
		return nil, fmt.Errorf("pricing service required")
	}
	if billingStore == nil {
		return nil, fmt.Errorf("billing store required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	if reader == nil {
		return nil, fmt.Errorf("wallet reader required")
	}
	return &service{
		pricer:       pricer,
		billingStore: billingStore,
		ledger:       ledger,
		reader:       reader,
		events:       events,
		metrics:      walletMetrics,
		logg:         logg,
	}, nil
}

func (s *service) PriceForSend(ctx context.Context, userID uuid.UUID, category enums.ConversationCategory, countryCode string) (money.Money, error) {
	start := time.Now()
	price, err := s.pricer.Price(ctx, userID, category, countryCode)
	s.observe("price", start, err)
	return price, err
}

// RecordAttempt prices the send and upserts its pending billing record.
// Retries merge into the same row.
func (s *service) RecordAttempt(ctx context.Context, input RecordAttemptInput) (uuid.UUID, error) {
	start := time.Now()
	recordID, err := s.recordAttempt(ctx, input)
	s.observe("record_attempt", start, err)
	return recordID, err
}

func (s *service) recordAttempt(ctx context.Context, input RecordAttemptInput) (uuid.UUID, error) {
	plan, err := s.pricer.ResolveForUser(ctx, input.UserID)
	if err != nil {
		return uuid.Nil, err
	}
	price, err := s.pricer.Price(ctx, input.UserID, input.Category, input.CountryCode)
	if err != nil {
		return uuid.Nil, err
	}

	var planID *uuid.UUID
	if plan.ID != uuid.Nil {
		id := plan.ID
		planID = &id
	}
	return s.billingStore.Upsert(ctx, billing.UpsertInput{
		UserID:         input.UserID,
		ConversationID: input.ConversationID,
		Category:       input.Category,
		Recipient:      input.Recipient,
		ChargeAmount:   price.AmountMinor,
		Currency:       price.Currency,
		Status:         enums.BillingRecordStatusPending,
		PricePlanID:    planID,
		WindowStart:    input.WindowStart,
		WindowEnd:      input.WindowEnd,
	})
}

// ReserveFunds holds the amount in suspense. A shortfall is reported in the
// outcome, and the billing record is marked failed so the attempt is
// reconciled either way.
func (s *service) ReserveFunds(ctx context.Context, userID uuid.UUID, conversationID string, amount money.Money) (*ReserveOutcome, error) {
	start := time.Now()
	txn, err := s.ledger.Reserve(ctx, userID, conversationID, amount)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds) {
			s.markRecord(ctx, userID, conversationID, enums.BillingRecordStatusFailed)
			s.count("reserve", "insufficient_funds")
			s.observe("reserve", start, nil)
			return &ReserveOutcome{Status: ReserveStatusInsufficientFunds}, nil
		}
		s.observe("reserve", start, err)
		return nil, err
	}

	s.markRecord(ctx, userID, conversationID, enums.BillingRecordStatusReserved)
	s.observe("reserve", start, nil)
	s.count("reserve", "reserved")
	return &ReserveOutcome{Status: ReserveStatusReserved, Transaction: txn}, nil
}

func (s *service) SettleSuccess(ctx context.Context, userID uuid.UUID, conversationID string) (*SettleOutcome, error) {
	start := time.Now()
	txn, err := s.ledger.Commit(ctx, userID, conversationID)
	s.observe("commit", start, err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, userID, conversationID, "paid", txn)
	return &SettleOutcome{Outcome: "paid", Transaction: txn}, nil
}

func (s *service) SettleFailure(ctx context.Context, userID uuid.UUID, conversationID string) (*SettleOutcome, error) {
	start := time.Now()
	txn, err := s.ledger.Release(ctx, userID, conversationID, wallet.ReleaseReasonSendFailed)
	s.observe("release", start, err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, userID, conversationID, "failed", txn)
	return &SettleOutcome{Outcome: "failed", Transaction: txn}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error) {
	start := time.Now()
	txn, err := s.ledger.Recharge(ctx, wallet.RechargeInput{
		UserID:          input.UserID,
		Amount:          input.Amount,
		SourceAccountID: input.SourceAccountID,
		Details:         input.Details,
		Reference:       input.Reference,
	})
	s.observe("recharge", start, err)
	return txn, err
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*wallet.BalanceSnapshot, error) {
	return s.ledger.Balance(ctx, userID)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) (*wallet.Page, error) {
	return s.reader.ListTransactions(ctx, userID, limit, offset)
}

// markRecord is tolerant of reservations made without a prior RecordAttempt.
func (s *service) markRecord(ctx context.Context, userID uuid.UUID, conversationID string, status enums.BillingRecordStatus) {
	err := s.billingStore.MarkStatus(ctx, userID, conversationID, status)
	if err == nil || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return
	}
	if s.logg != nil {
		s.logg.Error(s.logg.WithConversationID(ctx, conversationID), "mark billing record", err)
	}
}

func (s *service) publish(ctx context.Context, userID uuid.UUID, conversationID, outcome string, txn *models.WalletTransaction) {
	if s.events == nil || txn == nil {
		return
	}
	s.events.PublishSettlement(ctx, SettlementEvent{
		UserID:         userID,
		ConversationID: conversationID,
		Outcome:        outcome,
		AmountMinor:    txn.Amount,
		Currency:       string(txn.Currency),
		OccurredAt:     time.Now().UTC(),
	})
}

func (s *service) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(op, time.Since(start))
	if err != nil {
		s.metrics.IncOutcome(op, "error")
	} else {
		s.metrics.IncOutcome(op, "ok")
	}
}

func (s *service) count(op, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncOutcome(op, outcome)
}
