package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatloop/chatloop-backend/internal/billing"
	"github.com/chatloop/chatloop-backend/internal/charging"
	"github.com/chatloop/chatloop-backend/internal/cron"
	"github.com/chatloop/chatloop-backend/internal/pricing"
	"github.com/chatloop/chatloop-backend/internal/wallet"
	"github.com/chatloop/chatloop-backend/pkg/config"
	"github.com/chatloop/chatloop-backend/pkg/db"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/metrics"
	"github.com/chatloop/chatloop-backend/pkg/migrate"
	"github.com/chatloop/chatloop-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	chargingService, err := charging.NewService(pricingService, billingStore, ledger, walletReader, nil, nil, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create charging service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewReservationReconcileJob(cron.ReservationReconcileJobParams{
		Logger:         logg,
		BillingStore:   billingStore,
		Charging:       chargingService,
		ReservationTTL: cfg.Wallet.ReservationTTL,
		BatchSize:      cfg.Wallet.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation reconcile job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(reconcileJob)

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Wallet.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron-worker:%s", env)
}
