package config

// EnvPrefix is the envconfig prefix shared by every CHATLOOP_* variable.
const EnvPrefix = "chatloop"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced outside struct tags (tests, error messages).
const (
	EnvAppEnv   = "CHATLOOP_APP_ENV"
	EnvPort     = "CHATLOOP_APP_PORT"
	EnvDBDSN    = "CHATLOOP_DB_DSN"
	EnvDBHost   = "CHATLOOP_DB_HOST"
	EnvDBUser   = "CHATLOOP_DB_USER"
	EnvDBName   = "CHATLOOP_DB_NAME"
	EnvRedisURL = "CHATLOOP_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
