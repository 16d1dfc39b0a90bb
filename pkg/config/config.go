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
	RateLimit    RateLimitConfig
	Commerce     CommerceConfig
	Payments     PaymentsConfig
	Sweeper      SweeperConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

// Load reads every section from the environment and validates the
// cross-field rules envconfig cannot express.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Commerce.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KEYMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KEYMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYMARKET_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"KEYMARKET_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"KEYMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KEYMARKET_DB_DSN"`
	Driver string `envconfig:"KEYMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEYMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"KEYMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEYMARKET_DB_USER"`
	LegacyPassword string `envconfig:"KEYMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEYMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEYMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEYMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEYMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEYMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEYMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEYMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"KEYMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig describes the tokens minted by the Identity Service.
type JWTConfig struct {
	Secret            string `envconfig:"KEYMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KEYMARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"KEYMARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RateLimitConfig bounds anonymous order intake.
type RateLimitConfig struct {
	OrderWindow     time.Duration `envconfig:"KEYMARKET_RATE_LIMIT_ORDER_WINDOW" default:"1m"`
	OrderIPLimit    int           `envconfig:"KEYMARKET_RATE_LIMIT_ORDER_IP_LIMIT" default:"20"`
	OrderEmailLimit int           `envconfig:"KEYMARKET_RATE_LIMIT_ORDER_EMAIL_LIMIT" default:"5"`
}

// CommerceConfig holds the values snapshotted onto orders at creation.
type CommerceConfig struct {
	DefaultCommissionRate string        `envconfig:"KEYMARKET_COMMERCE_DEFAULT_COMMISSION_RATE" default:"0.15"`
	PaymentWindow         time.Duration `envconfig:"KEYMARKET_COMMERCE_PAYMENT_WINDOW" default:"30m"`
	RefundWindow          time.Duration `envconfig:"KEYMARKET_COMMERCE_REFUND_WINDOW" default:"24h"`
	ReviewWindow          time.Duration `envconfig:"KEYMARKET_COMMERCE_REVIEW_WINDOW" default:"744h"`
	PaymentCurrency       string        `envconfig:"KEYMARKET_COMMERCE_PAYMENT_CURRENCY" default:"LTC"`
	PaymentMethod         string        `envconfig:"KEYMARKET_COMMERCE_PAYMENT_METHOD" default:"litecoin"`
}

// CommissionRate parses the configured default; Load has already validated it.
func (c CommerceConfig) CommissionRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultCommissionRate))
	if err != nil {
		return decimal.RequireFromString("0.15")
	}
	return rate
}

func (c CommerceConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultCommissionRate))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvDefaultCommission, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be between 0 and 1", EnvDefaultCommission)
	}
	if c.PaymentWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvPaymentWindow)
	}
	return nil
}

// PaymentsConfig configures reconciliation and the local gateway.
type PaymentsConfig struct {
	MinConfirmations int           `envconfig:"KEYMARKET_PAYMENTS_MIN_CONFIRMATIONS" default:"3"`
	AmountTolerance  string        `envconfig:"KEYMARKET_PAYMENTS_AMOUNT_TOLERANCE" default:"0.00000001"`
	WebhookSecret    string        `envconfig:"KEYMARKET_PAYMENTS_WEBHOOK_SECRET"`
	InternalAPIKey   string        `envconfig:"KEYMARKET_PAYMENTS_INTERNAL_API_KEY"`
	AddressMasterKey string        `envconfig:"KEYMARKET_PAYMENTS_ADDRESS_MASTER_KEY"`
	SimulatedTxTTL   time.Duration `envconfig:"KEYMARKET_PAYMENTS_SIMULATED_TX_TTL" default:"24h"`
	IdempotencyTTL   time.Duration `envconfig:"KEYMARKET_PAYMENTS_IDEMPOTENCY_TTL" default:"168h"`
}

func (p PaymentsConfig) Tolerance() decimal.Decimal {
	tol, err := decimal.NewFromString(strings.TrimSpace(p.AmountTolerance))
	if err != nil {
		return decimal.New(1, -8)
	}
	return tol
}

func (p PaymentsConfig) validate() error {
	if p.MinConfirmations < 0 {
		return fmt.Errorf("%s must not be negative", EnvMinConfirmations)
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(p.AmountTolerance)); err != nil {
		return fmt.Errorf("KEYMARKET_PAYMENTS_AMOUNT_TOLERANCE: %w", err)
	}
	return nil
}

type SweeperConfig struct {
	Interval       time.Duration `envconfig:"KEYMARKET_SWEEPER_INTERVAL" default:"1m"`
	LockTTL        time.Duration `envconfig:"KEYMARKET_SWEEPER_LOCK_TTL" default:"5m"`
	ReviewLookback time.Duration `envconfig:"KEYMARKET_SWEEPER_REVIEW_LOOKBACK" default:"72h"`
	BatchSize      int           `envconfig:"KEYMARKET_SWEEPER_BATCH_SIZE" default:"200"`
}

type FeatureFlagsConfig struct {
	UseSQLite         bool `envconfig:"KEYMARKET_USE_SQLITE" default:"false"`
	AutoMigrate       bool `envconfig:"KEYMARKET_AUTO_MIGRATE" default:"false"`
	SimulatedPayments bool `envconfig:"KEYMARKET_FEATURE_SIMULATED_PAYMENTS" default:"false"`
}

type EventingConfig struct {
	HTTPIdempotencyTTL time.Duration `envconfig:"KEYMARKET_EVENTING_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEYMARKET_GCP_PROJECT_ID" required:"true"`
	ApplicationCredentials string `envconfig:"KEYMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"KEYMARKET_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription       string `envconfig:"KEYMARKET_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"KEYMARKET_PUBSUB_NOTIFICATION_TOPIC" default:"km-notification-events"`
	NotificationSubscription string `envconfig:"KEYMARKET_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KEYMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KEYMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KEYMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`

	Retention    time.Duration `envconfig:"KEYMARKET_OUTBOX_RETENTION" default:"720h"`
	DLQRetention time.Duration `envconfig:"KEYMARKET_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	values := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	var missing []string
	for _, name := range legacyDBEnvVars {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	user := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		user = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
