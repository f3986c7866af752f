package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatloop/chatloop-backend/api/controllers"
	"github.com/chatloop/chatloop-backend/api/middleware"
	"github.com/chatloop/chatloop-backend/internal/charging"
	"github.com/chatloop/chatloop-backend/internal/wallet"
	"github.com/chatloop/chatloop-backend/pkg/config"
	"github.com/chatloop/chatloop-backend/pkg/db"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	chargingService charging.Service,
	walletReader wallet.Reader,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	rechargePolicy := middleware.NewRateLimitPolicy(
		"recharge",
		cfg.RateLimit.RechargeWindow,
		cfg.RateLimit.RechargeLimit,
	)

	var redisPinger interface {
		Ping(ctx context.Context) error
	}
	if redisClient != nil {
		redisPinger = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})
	r.Get("/healthz", controllers.HealthLive(cfg))

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", controllers.WalletBalance(chargingService, logg))
			r.Get("/transactions", controllers.WalletTransactions(walletReader, logg))
			r.With(middleware.RateLimit(rechargePolicy, redisClient, logg)).
				Post("/recharge", controllers.WalletRecharge(chargingService, logg))
		})

		r.Route("/pricing", func(r chi.Router) {
			r.Get("/quote", controllers.PricingQuote(chargingService, logg))
		})
	})

	return r
}
