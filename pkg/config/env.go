package config

const (
	EnvPrefix = "CODEVAULT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv      = "CODEVAULT_APP_ENV"
	EnvPort        = "CODEVAULT_APP_PORT"
	EnvLogLevel    = "CODEVAULT_LOG_LEVEL"
	EnvDBDSN       = "CODEVAULT_DB_DSN"
	EnvDBDriver    = "CODEVAULT_DB_DRIVER"
	EnvDBHost      = "CODEVAULT_DB_HOST"
	EnvDBUser      = "CODEVAULT_DB_USER"
	EnvDBName      = "CODEVAULT_DB_NAME"
	EnvDBPassword  = "CODEVAULT_DB_PASSWORD"
	EnvRedisURL    = "CODEVAULT_REDIS_URL"
	EnvJWTSecret   = "CODEVAULT_JWT_SECRET"
	EnvJWTIssuer   = "CODEVAULT_JWT_ISSUER"
	EnvIPNSecret   = "CODEVAULT_NOWPAYMENTS_IPN_SECRET"
	EnvNPAPIKey    = "CODEVAULT_NOWPAYMENTS_API_KEY"
	EnvNPMinAmount = "CODEVAULT_NOWPAYMENTS_MIN_AMOUNT_FALLBACK"
	EnvGCPProject  = "CODEVAULT_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
