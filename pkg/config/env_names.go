package config

// EnvPrefix is handed to envconfig; field tags carry absolute names.
const EnvPrefix = "KEYMARKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv       = "KEYMARKET_APP_ENV"
	EnvPort         = "KEYMARKET_APP_PORT"
	EnvServiceKind  = "KEYMARKET_SERVICE_KIND"
	EnvDBDSN        = "KEYMARKET_DB_DSN"
	EnvDBHost       = "KEYMARKET_DB_HOST"
	EnvDBUser       = "KEYMARKET_DB_USER"
	EnvDBName       = "KEYMARKET_DB_NAME"
	EnvRedisURL     = "KEYMARKET_REDIS_URL"
	EnvJWTSecret    = "KEYMARKET_JWT_SECRET"
	EnvJWTIssuer    = "KEYMARKET_JWT_ISSUER"
	EnvJWTExpMins   = "KEYMARKET_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID = "KEYMARKET_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic       = "KEYMARKET_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub         = "KEYMARKET_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubNotificationTopic = "KEYMARKET_PUBSUB_NOTIFICATION_TOPIC"

	EnvWebhookSecret  = "KEYMARKET_PAYMENTS_WEBHOOK_SECRET"
	EnvInternalAPIKey = "KEYMARKET_PAYMENTS_INTERNAL_API_KEY"
	EnvAddressKey     = "KEYMARKET_PAYMENTS_ADDRESS_MASTER_KEY"

	EnvDefaultCommission = "KEYMARKET_COMMERCE_DEFAULT_COMMISSION_RATE"
	EnvPaymentWindow     = "KEYMARKET_COMMERCE_PAYMENT_WINDOW"
	EnvMinConfirmations  = "KEYMARKET_PAYMENTS_MIN_CONFIRMATIONS"
)

// legacyDBEnvVars must all be set when no DSN is supplied.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
