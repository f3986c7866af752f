package pricing

import (
	"context"

	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles price plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePlan(ctx context.Context, plan *models.PricePlan) error
	FindPlanByID(ctx context.Context, id uuid.UUID) (*models.PricePlan, error)
	FindDefaultPlan(ctx context.Context) (*models.PricePlan, error)
	AssignPlan(ctx context.Context, assignment *models.PricePlanAssignment) error
	LatestAssignment(ctx context.Context, userID uuid.UUID) (*models.PricePlanAssignment, error)
	UpsertOverride(ctx context.Context, override *models.PricePlanOverride) error
	FindOverride(ctx context.Context, planID uuid.UUID, countryCode, category string) (*models.PricePlanOverride, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a pricing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.PricePlan) error {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.PricePlan, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var plan models.PricePlan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindDefaultPlan(ctx context.Context) (*models.PricePlan, error) {
	var plan models.PricePlan
	if err := r.db.WithContext(ctx).
		Where("is_default = ?", true).
		Order("updated_at DESC").
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) AssignPlan(ctx context.Context, assignment *models.PricePlanAssignment) error {
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *repository) LatestAssignment(ctx context.Context, userID uuid.UUID) (*models.PricePlanAssignment, error) {
	var assignment models.PricePlanAssignment
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("assigned_at DESC").
		Order("id DESC").
		First(&assignment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *repository) UpsertOverride(ctx context.Context, override *models.PricePlanOverride) error {
	if override.ID == uuid.Nil {
		override.ID = uuid.New()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "plan_id"},
				{Name: "country_code"},
				{Name: "category"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "currency"}),
		}).
		Create(override).Error
}

func (r *repository) FindOverride(ctx context.Context, planID uuid.UUID, countryCode, category string) (*models.PricePlanOverride, error) {
	var override models.PricePlanOverride
	if err := r.db.WithContext(ctx).
		Where("plan_id = ? AND country_code = ? AND category = ?", planID, countryCode, category).
		First(&override).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &override, nil
}
