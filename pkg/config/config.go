package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Wallet       WalletConfig
	RateLimit    RateLimitConfig
	Pricing      PricingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CHATLOOP_APP_ENV" required:"true"`
	Port         string `envconfig:"CHATLOOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CHATLOOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CHATLOOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CHATLOOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CHATLOOP_DB_DSN"`
	Driver string `envconfig:"CHATLOOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CHATLOOP_DB_HOST"`
	LegacyPort     int    `envconfig:"CHATLOOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CHATLOOP_DB_USER"`
	LegacyPassword string `envconfig:"CHATLOOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"CHATLOOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"CHATLOOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHATLOOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHATLOOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHATLOOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHATLOOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CHATLOOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CHATLOOP_REDIS_ADDR"`
	Password     string        `envconfig:"CHATLOOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHATLOOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHATLOOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHATLOOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHATLOOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHATLOOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHATLOOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// WalletConfig tunes the ledger and the reservation reconcile sweep.
type WalletConfig struct {
	DefaultCurrency string        `envconfig:"CHATLOOP_WALLET_DEFAULT_CURRENCY" default:"USD"`
	ReservationTTL  time.Duration `envconfig:"CHATLOOP_WALLET_RESERVATION_TTL" default:"24h"`
	SweepInterval   time.Duration `envconfig:"CHATLOOP_WALLET_SWEEP_INTERVAL" default:"1h"`
	SweepBatchSize  int           `envconfig:"CHATLOOP_WALLET_SWEEP_BATCH_SIZE" default:"200"`
}

// RateLimitConfig throttles the recharge endpoint per user. A zero window or
// limit disables the limiter.
type RateLimitConfig struct {
	RechargeWindow time.Duration `envconfig:"CHATLOOP_RATE_LIMIT_RECHARGE_WINDOW" default:"1m"`
	RechargeLimit  int64         `envconfig:"CHATLOOP_RATE_LIMIT_RECHARGE_LIMIT" default:"10"`
}

// PricingConfig tunes the price plan resolver cache.
type PricingConfig struct {
	PlanCacheTTL time.Duration `envconfig:"CHATLOOP_PRICING_PLAN_CACHE_TTL" default:"5m"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"CHATLOOP_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"CHATLOOP_GCP_CREDENTIALS_FILE"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"CHATLOOP_PUBSUB_BILLING_TOPIC" default:"chatloop-billing-events"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CHATLOOP_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
