package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatloop/chatloop-backend/pkg/enums"
)

// PricePlan holds the per-category base rates, in minor units, used to price
// outbound message sends. One plan is flagged as the system-wide default.
type PricePlan struct {
	ID                 uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Name               string         `gorm:"column:name;not null"`
	Currency           enums.Currency `gorm:"column:currency;not null;default:'USD'"`
	UtilityRate        int64          `gorm:"column:utility_rate;not null;default:0"`
	MarketingRate      int64          `gorm:"column:marketing_rate;not null;default:0"`
	AuthenticationRate int64          `gorm:"column:authentication_rate;not null;default:0"`
	ServiceRate        int64          `gorm:"column:service_rate;not null;default:0"`
	IsDefault          bool           `gorm:"column:is_default;not null;default:false"`
	EffectiveFrom      time.Time      `gorm:"column:effective_from"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// RateFor returns the plan's base rate for the given category.
func (p PricePlan) RateFor(category enums.ConversationCategory) int64 {
	switch category {
	case enums.ConversationCategoryUtility:
		return p.UtilityRate
	case enums.ConversationCategoryMarketing:
		return p.MarketingRate
	case enums.ConversationCategoryAuthentication:
		return p.AuthenticationRate
	case enums.ConversationCategoryService:
		return p.ServiceRate
	}
	return 0
}

// PricePlanAssignment links a user to a plan. The most recent assignment wins.
type PricePlanAssignment struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID     uuid.UUID `gorm:"column:plan_id;type:uuid;not null"`
	AssignedAt time.Time `gorm:"column:assigned_at;autoCreateTime"`
}
