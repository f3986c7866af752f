package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/money"
	"github.com/google/uuid"
)

// planCache is the read-through cache surface satisfied by pkg/redis.Client.
type planCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	PlanCacheKey(userID string) string
}

// Service resolves the rate to charge for a (user, category, country) tuple.
type Service interface {
	ResolveForUser(ctx context.Context, userID uuid.UUID) (*models.PricePlan, error)
	Override(ctx context.Context, planID uuid.UUID, countryCode string, category enums.ConversationCategory) (*money.Money, error)
	Price(ctx context.Context, userID uuid.UUID, category enums.ConversationCategory, countryCode string) (money.Money, error)
}

type service struct {
	repo            Repository
	cache           planCache
	logg            *logger.Logger
	cacheTTL        time.Duration
	defaultCurrency enums.Currency
}

// NewService builds a pricing service. The cache is optional; when nil every
// resolution hits the database.
func NewService(repo Repository, cache planCache, logg *logger.Logger, cacheTTL time.Duration, defaultCurrency enums.Currency) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	if !defaultCurrency.IsValid() {
		return nil, fmt.Errorf("invalid default currency %q", defaultCurrency)
	}
	return &service{
		repo:            repo,
		cache:           cache,
		logg:            logg,
		cacheTTL:        cacheTTL,
		defaultCurrency: defaultCurrency,
	}, nil
}

// ResolveForUser walks assignment, then the system default, then an all-zero
// plan. A missing plan configuration never blocks a send attempt; it prices
// the send at zero instead.
func (s *service) ResolveForUser(ctx context.Context, userID uuid.UUID) (*models.PricePlan, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	if cached := s.cachedPlan(ctx, userID); cached != nil {
		return cached, nil
	}

	plan, err := s.resolveFromStore(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.storePlan(ctx, userID, plan)
	return plan, nil
}

func (s *service) resolveFromStore(ctx context.Context, userID uuid.UUID) (*models.PricePlan, error) {
	assignment, err := s.repo.LatestAssignment(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan assignment")
	}
	if assignment != nil {
		plan, err := s.repo.FindPlanByID(ctx, assignment.PlanID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup assigned plan")
		}
		if plan != nil {
			return plan, nil
		}
	}

	plan, err := s.repo.FindDefaultPlan(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup default plan")
	}
	if plan != nil {
		return plan, nil
	}

	if s.logg != nil {
		s.logg.Warn(s.logg.WithUserID(ctx, userID.String()), "no price plan configured, degrading to zero rates")
	}
	return s.zeroPlan(), nil
}

// zeroPlan is the NotConfigured fallback: every category prices at zero.
func (s *service) zeroPlan() *models.PricePlan {
	return &models.PricePlan{
		ID:       uuid.Nil,
		Name:     "unconfigured-zero",
		Currency: s.defaultCurrency,
	}
}

func (s *service) Override(ctx context.Context, planID uuid.UUID, countryCode string, category enums.ConversationCategory) (*money.Money, error) {
	if planID == uuid.Nil {
		return nil, nil
	}
	code := normalizeCountry(countryCode)
	if code == "" {
		return nil, nil
	}
	if !category.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid conversation category")
	}

	override, err := s.repo.FindOverride(ctx, planID, code, string(category))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup country override")
	}
	if override == nil {
		return nil, nil
	}
	rate := money.New(override.Rate, override.Currency)
	return &rate, nil
}

// Price composes plan resolution and the country override. Pure lookup, no
// side effects, safe to call repeatedly.
func (s *service) Price(ctx context.Context, userID uuid.UUID, category enums.ConversationCategory, countryCode string) (money.Money, error) {
	if !category.IsValid() {
		return money.Money{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid conversation category")
	}

	plan, err := s.ResolveForUser(ctx, userID)
	if err != nil {
		return money.Money{}, err
	}

	if override, err := s.Override(ctx, plan.ID, countryCode, category); err != nil {
		return money.Money{}, err
	} else if override != nil {
		return *override, nil
	}

	return money.New(plan.RateFor(category), plan.Currency), nil
}

func (s *service) cachedPlan(ctx context.Context, userID uuid.UUID) *models.PricePlan {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil
	}
	raw, err := s.cache.Get(ctx, s.cache.PlanCacheKey(userID.String()))
	if err != nil {
		return nil
	}
	var plan models.PricePlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil
	}
	return &plan
}

// storePlan is best effort: a cache write failure degrades to direct reads.
func (s *service) storePlan(ctx context.Context, userID uuid.UUID, plan *models.PricePlan) {
	if s.cache == nil || s.cacheTTL <= 0 || plan == nil {
		return
	}
	payload, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cache.PlanCacheKey(userID.String()), string(payload), s.cacheTTL); err != nil && s.logg != nil {
		s.logg.Debug(ctx, "price plan cache write failed")
	}
}

func normalizeCountry(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if len(trimmed) != 2 {
		return ""
	}
	return trimmed
}
