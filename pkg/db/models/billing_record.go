package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatloop/chatloop-backend/pkg/enums"
)

// BillingRecord is the reconciliation row tying one provider conversation to
// the charge applied for it. Exactly one row exists per (user, conversation),
// however many times the send is retried.
type BillingRecord struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID                  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_billing_records_user_conversation"`
	ConversationID string                     `gorm:"column:conversation_id;not null;uniqueIndex:ux_billing_records_user_conversation"`
	Category       enums.ConversationCategory `gorm:"column:category;not null"`
	Recipient      string                     `gorm:"column:recipient;not null"`
	ChargeAmount   int64                      `gorm:"column:charge_amount;not null;default:0"`
	Currency       enums.Currency             `gorm:"column:currency;not null;default:'USD'"`
	Status         enums.BillingRecordStatus  `gorm:"column:status;not null;default:'pending'"`
	PricePlanID    *uuid.UUID                 `gorm:"column:price_plan_id;type:uuid"`
	WindowStart    time.Time                  `gorm:"column:window_start"`
	WindowEnd      time.Time                  `gorm:"column:window_end"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
