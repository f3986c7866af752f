package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fakeRepository struct {
	latestAssignmentFn func(ctx context.Context, userID uuid.UUID) (*models.PricePlanAssignment, error)
	findPlanByIDFn     func(ctx context.Context, id uuid.UUID) (*models.PricePlan, error)
	findDefaultPlanFn  func(ctx context.Context) (*models.PricePlan, error)
	findOverrideFn     func(ctx context.Context, planID uuid.UUID, countryCode, category string) (*models.PricePlanOverride, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) CreatePlan(ctx context.Context, plan *models.PricePlan) error { return nil }

func (f *fakeRepository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.PricePlan, error) {
	if f.findPlanByIDFn != nil {
		return f.findPlanByIDFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeRepository) FindDefaultPlan(ctx context.Context) (*models.PricePlan, error) {
	if f.findDefaultPlanFn != nil {
		return f.findDefaultPlanFn(ctx)
	}
	return nil, nil
}

func (f *fakeRepository) AssignPlan(ctx context.Context, assignment *models.PricePlanAssignment) error {
	return nil
}

func (f *fakeRepository) LatestAssignment(ctx context.Context, userID uuid.UUID) (*models.PricePlanAssignment, error) {
	if f.latestAssignmentFn != nil {
		return f.latestAssignmentFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeRepository) UpsertOverride(ctx context.Context, override *models.PricePlanOverride) error {
	return nil
}

func (f *fakeRepository) FindOverride(ctx context.Context, planID uuid.UUID, countryCode, category string) (*models.PricePlanOverride, error) {
	if f.findOverrideFn != nil {
		return f.findOverrideFn(ctx, planID, countryCode, category)
	}
	return nil, nil
}

type fakePlanCache struct {
	data map[string]string
	sets int
}

func (f *fakePlanCache) Get(ctx context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", errors.New("cache miss")
}

func (f *fakePlanCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if f.data == nil {
		f.data = make(map[string]string)
	}
	f.data[key] = value.(string)
	f.sets++
	return nil
}

func (f *fakePlanCache) PlanCacheKey(userID string) string {
	return "test:price_plan:" + userID
}

func TestService_ResolveForUser_AssignedPlanWins(t *testing.T) {
	planID := uuid.New()
	repo := &fakeRepository{
		latestAssignmentFn: func(ctx context.Context, userID uuid.UUID) (*models.PricePlanAssignment, error) {
			return &models.PricePlanAssignment{PlanID: planID}, nil
		},
		findPlanByIDFn: func(ctx context.Context, id uuid.UUID) (*models.PricePlan, error) {
			if id != planID {
				t.Fatalf("unexpected plan id %s", id)
			}
			return &models.PricePlan{ID: planID, Name: "growth", Currency: enums.CurrencyUSD, UtilityRate: 40}, nil
		},
		findDefaultPlanFn: func(ctx context.Context) (*models.PricePlan, error) {
			t.Fatal("default plan should not be consulted when an assignment exists")
			return nil, nil
		},
	}

	svc, err := NewService(repo, nil, nil, 0, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	plan, err := svc.ResolveForUser(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ResolveForUser error: %v", err)
	}
	if plan.ID != planID {
		t.Fatalf("expected assigned plan, got %s", plan.ID)
	}
}

func TestService_ResolveForUser_FallsBackToDefault(t *testing.T) {
	defaultID := uuid.New()
	repo := &fakeRepository{
		findDefaultPlanFn: func(ctx context.Context) (*models.PricePlan, error) {
			return &models.PricePlan{ID: defaultID, Name: "standard", Currency: enums.CurrencyUSD, IsDefault: true}, nil
		},
	}

	svc, err := NewService(repo, nil, nil, 0, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	plan, err := svc.ResolveForUser(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ResolveForUser error: %v", err)
	}
	if plan.ID != defaultID {
		t.Fatalf("expected default plan, got %s", plan.ID)
	}
}

func TestService_ResolveForUser_DegradesToZeroPlan(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo, nil, nil, 0, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	plan, err := svc.ResolveForUser(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ResolveForUser error: %v", err)
	}
	if plan.ID != uuid.Nil {
		t.Fatalf("expected zero plan, got %s", plan.ID)
	}
	for _, category := range enums.ConversationCategories() {
		if rate := plan.RateFor(category); rate != 0 {
			t.Fatalf("expected zero rate for %s, got %d", category, rate)
		}
	}
}

func TestService_ResolveForUser_UsesCache(t *testing.T) {
	planID := uuid.New()
	calls := 0
	repo := &fakeRepository{
		latestAssignmentFn: func(ctx context.Context, userID uuid.UUID) (*models.PricePlanAssignment, error) {
			calls++
			return &models.PricePlanAssignment{PlanID: planID}, nil
		},
		findPlanByIDFn: func(ctx context.Context, id uuid.UUID) (*models.PricePlan, error) {
			return &models.PricePlan{ID: planID, Name: "growth", Currency: enums.CurrencyUSD, MarketingRate: 90}, nil
		},
	}
	cache := &fakePlanCache{}

	svc, err := NewService(repo, cache, nil, time.Minute, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	userID := uuid.New()
	if _, err := svc.ResolveForUser(context.Background(), userID); err != nil {
		t.Fatalf("first resolve error: %v", err)
	}
	plan, err := svc.ResolveForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("second resolve error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one store read, got %d", calls)
	}
	if cache.sets != 1 {
		t.Fatalf("expected one cache write, got %d", cache.sets)
	}
	if plan.MarketingRate != 90 {
		t.Fatalf("cached plan lost rates: %+v", plan)
	}
}

func TestService_Price_OverrideTakesPrecedence(t *testing.T) {
	planID := uuid.New()
	repo := &fakeRepository{
		findDefaultPlanFn: func(ctx context.Context) (*models.PricePlan, error) {
			return &models.PricePlan{ID: planID, Currency: enums.CurrencyUSD, UtilityRate: 40}, nil
		},
		findOverrideFn: func(ctx context.Context, gotPlan uuid.UUID, countryCode, category string) (*models.PricePlanOverride, error) {
			if countryCode != "BR" {
				t.Fatalf("expected normalized country BR, got %q", countryCode)
			}
			return &models.PricePlanOverride{
				PlanID:      gotPlan,
				CountryCode: countryCode,
				Category:    enums.ConversationCategoryUtility,
				Rate:        25,
				Currency:    enums.CurrencyBRL,
			}, nil
		},
	}

	svc, err := NewService(repo, nil, nil, 0, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	price, err := svc.Price(context.Background(), uuid.New(), enums.ConversationCategoryUtility, "br")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if price.AmountMinor != 25 || price.Currency != enums.CurrencyBRL {
		t.Fatalf("expected override rate, got %+v", price)
	}
}

func TestService_Price_BaseRateWithoutCountry(t *testing.T) {
	planID := uuid.New()
	repo := &fakeRepository{
		findDefaultPlanFn: func(ctx context.Context) (*models.PricePlan, error) {
			return &models.PricePlan{ID: planID, Currency: enums.CurrencyUSD, AuthenticationRate: 35}, nil
		},
		findOverrideFn: func(ctx context.Context, planID uuid.UUID, countryCode, category string) (*models.PricePlanOverride, error) {
			t.Fatal("override lookup should be skipped without a country code")
			return nil, nil
		},
	}

	svc, err := NewService(repo, nil, nil, 0, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	price, err := svc.Price(context.Background(), uuid.New(), enums.ConversationCategoryAuthentication, "")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if price.AmountMinor != 35 || price.Currency != enums.CurrencyUSD {
		t.Fatalf("expected base rate, got %+v", price)
	}
}

func TestService_Price_RejectsInvalidCategory(t *testing.T) {
	svc, err := NewService(&fakeRepository{}, nil, nil, 0, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	_, err = svc.Price(context.Background(), uuid.New(), enums.ConversationCategory("bulk"), "")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
