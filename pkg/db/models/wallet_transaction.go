package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatloop/chatloop-backend/pkg/enums"
)

// WalletTransaction is one immutable entry in the append-only ledger log.
// ExternalID carries the idempotency key: reserve/commit/release derive it
// deterministically from the conversation id, so a retried operation collides
// on the unique index instead of double-applying.
type WalletTransaction struct {
	ID            uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	AccountID     uuid.UUID                     `gorm:"column:account_id;type:uuid;not null;index"`
	UserID        *uuid.UUID                    `gorm:"column:user_id;type:uuid;index"`
	ExternalID    string                        `gorm:"column:external_id;not null;uniqueIndex"`
	Type          enums.WalletTransactionType   `gorm:"column:type;not null"`
	Amount        int64                         `gorm:"column:amount;not null"`
	Currency      enums.Currency                `gorm:"column:currency;not null"`
	BalanceAfter  int64                         `gorm:"column:balance_after;not null"`
	SuspenseAfter int64                         `gorm:"column:suspense_after;not null"`
	Status        enums.WalletTransactionStatus `gorm:"column:status;not null;default:'completed'"`
	Details       string                        `gorm:"column:details"`
	CreatedAt     time.Time                     `gorm:"column:created_at;autoCreateTime"`
}
