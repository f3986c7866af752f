package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatloop/chatloop-backend/pkg/enums"
)

// PricePlanOverride replaces a plan's base rate for one (country, category) pair.
type PricePlanOverride struct {
	ID          uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	PlanID      uuid.UUID                  `gorm:"column:plan_id;type:uuid;not null;uniqueIndex:ux_price_plan_overrides_plan_country_category"`
	CountryCode string                     `gorm:"column:country_code;size:2;not null;uniqueIndex:ux_price_plan_overrides_plan_country_category"`
	Category    enums.ConversationCategory `gorm:"column:category;not null;uniqueIndex:ux_price_plan_overrides_plan_country_category"`
	Rate        int64                      `gorm:"column:rate;not null"`
	Currency    enums.Currency             `gorm:"column:currency;not null"`
	CreatedAt   time.Time                  `gorm:"column:created_at;autoCreateTime"`
}
