package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	NowPayments  NowPaymentsConfig
	Checkout     CheckoutConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
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
	Env          string   `envconfig:"CODEVAULT_APP_ENV" required:"true"`
	Port         string   `envconfig:"CODEVAULT_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"CODEVAULT_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CODEVAULT_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"CODEVAULT_LOG_FORMAT"`
	PublicURL    string   `envconfig:"CODEVAULT_PUBLIC_URL" default:"http://localhost:8080"`
	CORSOrigins  []string `envconfig:"CODEVAULT_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CODEVAULT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CODEVAULT_DB_DSN"`
	Driver string `envconfig:"CODEVAULT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CODEVAULT_DB_HOST"`
	LegacyPort     int    `envconfig:"CODEVAULT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CODEVAULT_DB_USER"`
	LegacyPassword string `envconfig:"CODEVAULT_DB_PASSWORD"`
	LegacyName     string `envconfig:"CODEVAULT_DB_NAME"`
	LegacySSLMode  string `envconfig:"CODEVAULT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CODEVAULT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CODEVAULT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CODEVAULT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CODEVAULT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"CODEVAULT_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CODEVAULT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CODEVAULT_REDIS_ADDR"`
	Password     string        `envconfig:"CODEVAULT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CODEVAULT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CODEVAULT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CODEVAULT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CODEVAULT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CODEVAULT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CODEVAULT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CODEVAULT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CODEVAULT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CODEVAULT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CODEVAULT_AUTO_MIGRATE" default:"false"`
}

type NowPaymentsConfig struct {
	BaseURL           string          `envconfig:"CODEVAULT_NOWPAYMENTS_BASE_URL" default:"https://api.nowpayments.io/v1"`
	APIKey            string          `envconfig:"CODEVAULT_NOWPAYMENTS_API_KEY"`
	IPNSecret         string          `envconfig:"CODEVAULT_NOWPAYMENTS_IPN_SECRET"`
	Timeout           time.Duration   `envconfig:"CODEVAULT_NOWPAYMENTS_TIMEOUT" default:"10s"`
	DefaultCurrency   string          `envconfig:"CODEVAULT_NOWPAYMENTS_DEFAULT_CURRENCY" default:"usd"`
	MinAmountFallback decimal.Decimal `envconfig:"CODEVAULT_NOWPAYMENTS_MIN_AMOUNT_FALLBACK" default:"1"`
	AmountEpsilon     decimal.Decimal `envconfig:"CODEVAULT_NOWPAYMENTS_AMOUNT_EPSILON" default:"0.01"`
	CallbackPath      string          `envconfig:"CODEVAULT_NOWPAYMENTS_CALLBACK_PATH" default:"/api/v1/webhooks/nowpayments"`
	SuccessURL        string          `envconfig:"CODEVAULT_NOWPAYMENTS_SUCCESS_URL"`
	CancelURL         string          `envconfig:"CODEVAULT_NOWPAYMENTS_CANCEL_URL"`
}

// CallbackURL joins the public base URL with the webhook path.
func (n NowPaymentsConfig) CallbackURL(publicURL string) string {
	base := strings.TrimRight(strings.TrimSpace(publicURL), "/")
	path := strings.TrimSpace(n.CallbackPath)
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

type CheckoutConfig struct {
	PendingOrderTTL time.Duration   `envconfig:"CODEVAULT_CHECKOUT_PENDING_ORDER_TTL" default:"2h"`
	ReferralRate    decimal.Decimal `envconfig:"CODEVAULT_CHECKOUT_REFERRAL_RATE" default:"0"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"CODEVAULT_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CODEVAULT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic       string `envconfig:"CODEVAULT_PUBSUB_ORDERS_TOPIC" default:"cv-order-events"`
	NotificationTopic string `envconfig:"CODEVAULT_PUBSUB_NOTIFICATION_TOPIC" default:"cv-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CODEVAULT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CODEVAULT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CODEVAULT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"CODEVAULT_OUTBOX_RETENTION_DAYS" default:"30"`
	PurgeBatchSize int `envconfig:"CODEVAULT_OUTBOX_PURGE_BATCH_SIZE" default:"500"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"CODEVAULT_CRON_INTERVAL" default:"1m"`
	LockTTL         time.Duration `envconfig:"CODEVAULT_CRON_LOCK_TTL" default:"5m"`
	StalePaymentAge time.Duration `envconfig:"CODEVAULT_CRON_STALE_PAYMENT_AGE" default:"10m"`
	ReconcileBatch  int           `envconfig:"CODEVAULT_CRON_RECONCILE_BATCH" default:"50"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DBDriverSQLite)
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
