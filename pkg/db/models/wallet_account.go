package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatloop/chatloop-backend/pkg/enums"
)

// WalletAccount is the per-user balance row the ledger serializes on. Suspense
// holds funds reserved for in-flight sends. Both balances are minor units and
// must never go negative; the database enforces this with CHECK constraints and
// the ledger validates before writing.
type WalletAccount struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID          *uuid.UUID              `gorm:"column:user_id;type:uuid;uniqueIndex"`
	Kind            enums.WalletAccountKind `gorm:"column:kind;not null;default:'user'"`
	Balance         int64                   `gorm:"column:balance;not null;default:0"`
	SuspenseBalance int64                   `gorm:"column:suspense_balance;not null;default:0"`
	Currency        enums.Currency          `gorm:"column:currency;not null;default:'USD'"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
