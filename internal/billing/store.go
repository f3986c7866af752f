package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatloop/chatloop-backend/pkg/db"
	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const userConversationConstraint = "ux_billing_records_user_conversation"

// Store persists the reconciliation record tying a provider conversation to
// its charge. Exactly one row per (user, conversation), however many times a
// send is retried.
type Store interface {
	WithTx(tx *gorm.DB) Store
	Upsert(ctx context.Context, input UpsertInput) (uuid.UUID, error)
	Find(ctx context.Context, userID uuid.UUID, conversationID string) (*models.BillingRecord, error)
	MarkStatus(ctx context.Context, userID uuid.UUID, conversationID string, status enums.BillingRecordStatus) error
	ListStuckReserved(ctx context.Context, olderThan time.Time, limit int) ([]models.BillingRecord, error)
}

// UpsertInput carries the fields recorded (or merged) for a send attempt.
type UpsertInput struct {
	UserID         uuid.UUID
	ConversationID string
	Category       enums.ConversationCategory
	Recipient      string
	ChargeAmount   int64
	Currency       enums.Currency
	Status         enums.BillingRecordStatus
	PricePlanID    *uuid.UUID
	WindowStart    time.Time
	WindowEnd      time.Time
}

func (in UpsertInput) validate() error {
	if in.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(in.ConversationID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "conversation id is required")
	}
	if !in.Category.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid conversation category %q", in.Category))
	}
	if !in.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", in.Currency))
	}
	if in.ChargeAmount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge amount must not be negative")
	}
	if !in.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing record status %q", in.Status))
	}
	return nil
}

type store struct {
	db *gorm.DB
}

// NewStore returns a billing record store bound to the provided database.
func NewStore(conn *gorm.DB) Store {
	return &store{db: conn}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{db: tx}
}

// Upsert inserts the record, or merges into the existing row when the unique
// (user_id, conversation_id) constraint trips: the time window widens to
// cover both calls and the mutable fields take the latest call's values.
// Identity fields never change.
func (s *store) Upsert(ctx context.Context, input UpsertInput) (uuid.UUID, error) {
	if err := input.validate(); err != nil {
		return uuid.Nil, err
	}

	record := &models.BillingRecord{
		ID:             uuid.New(),
		UserID:         input.UserID,
		ConversationID: strings.TrimSpace(input.ConversationID),
		Category:       input.Category,
		Recipient:      input.Recipient,
		ChargeAmount:   input.ChargeAmount,
		Currency:       input.Currency,
		Status:         input.Status,
		PricePlanID:    input.PricePlanID,
		WindowStart:    input.WindowStart,
		WindowEnd:      input.WindowEnd,
	}

	err := s.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return record.ID, nil
	}
	if !db.IsUniqueViolation(err, userConversationConstraint) {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert billing record")
	}
	return s.merge(ctx, input)
}

// merge runs read-merge-update in a transaction with the existing row locked,
// so concurrent upserts for the same key cannot drop each other's window
// widening. SQLite has no row locks and serializes writers instead.
func (s *store) merge(ctx context.Context, input UpsertInput) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if s.db.Dialector.Name() != "sqlite" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var existing models.BillingRecord
		if err := query.
			Where("user_id = ? AND conversation_id = ?", input.UserID, strings.TrimSpace(input.ConversationID)).
			First(&existing).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeDependency, "billing record vanished during merge")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock billing record")
		}

		updates := map[string]any{
			"category":      input.Category,
			"recipient":     input.Recipient,
			"charge_amount": input.ChargeAmount,
			"currency":      input.Currency,
			"status":        input.Status,
			"window_start":  minTime(existing.WindowStart, input.WindowStart),
			"window_end":    maxTime(existing.WindowEnd, input.WindowEnd),
		}
		if input.PricePlanID != nil {
			updates["price_plan_id"] = *input.PricePlanID
		}

		if err := tx.
			Model(&models.BillingRecord{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge billing record")
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *store) Find(ctx context.Context, userID uuid.UUID, conversationID string) (*models.BillingRecord, error) {
	var record models.BillingRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, strings.TrimSpace(conversationID)).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup billing record")
	}
	return &record, nil
}

func (s *store) MarkStatus(ctx context.Context, userID uuid.UUID, conversationID string, status enums.BillingRecordStatus) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing record status %q", status))
	}
	result := s.db.WithContext(ctx).
		Model(&models.BillingRecord{}).
		Where("user_id = ? AND conversation_id = ?", userID, strings.TrimSpace(conversationID)).
		Update("status", status)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "update billing record status")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "billing record not found")
	}
	return nil
}

// ListStuckReserved returns reserved records that have not moved since
// olderThan, oldest first. Feeds the reconcile sweep.
func (s *store) ListStuckReserved(ctx context.Context, olderThan time.Time, limit int) ([]models.BillingRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	var records []models.BillingRecord
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.BillingRecordStatusReserved, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stuck reservations")
	}
	return records, nil
}

func minTime(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
