package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/chatloop/chatloop-backend/api/routes"
	"github.com/chatloop/chatloop-backend/internal/billing"
	"github.com/chatloop/chatloop-backend/internal/charging"
	"github.com/chatloop/chatloop-backend/internal/pricing"
	"github.com/chatloop/chatloop-backend/internal/wallet"
	"github.com/chatloop/chatloop-backend/pkg/config"
	"github.com/chatloop/chatloop-backend/pkg/db"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/metrics"
	"github.com/chatloop/chatloop-backend/pkg/migrate"
	"github.com/chatloop/chatloop-backend/pkg/pubsub"
	"github.com/chatloop/chatloop-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	defaultCurrency, err := enums.ParseCurrency(cfg.Wallet.DefaultCurrency)
	if err != nil {
		logg.Error(context.Background(), "invalid default currency", err)
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	walletMetrics := metrics.NewWalletMetrics(registry)

	var events charging.EventPublisher
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		events = charging.NewPubSubEventPublisher(pubsubClient.BillingPublisher(), logg)
	} else {
		logg.Warn(context.Background(), "pubsub disabled, settlement events will not be published")
	}

	pricingService, err := pricing.NewService(
		pricing.NewRepository(dbClient.DB()),
		redisClient,
		logg,
		cfg.Pricing.PlanCacheTTL,
		defaultCurrency,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing service", err)
		os.Exit(1)
	}

	billingStore := billing.NewStore(dbClient.DB())
	walletRepo := wallet.NewRepository(dbClient.DB())

	ledger, err := wallet.NewLedger(dbClient, walletRepo, billingStore, logg, defaultCurrency)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet ledger", err)
		os.Exit(1)
	}

	walletReader, err := wallet.NewReader(walletRepo, ledger)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet reader", err)
		os.Exit(1)
	}

	chargingService, err := charging.NewService(pricingService, billingStore, ledger, walletReader, events, walletMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create charging service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, chargingService, walletReader),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
