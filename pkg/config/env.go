package config

// EnvPrefix is the envconfig prefix; nested fields resolve through their tag names.
const EnvPrefix = "TRADELINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	CommissionScheduleFlat   = "flat"
	CommissionScheduleTiered = "tiered"
)

const (
	EnvAppEnv   = "TRADELINE_APP_ENV"
	EnvPort     = "TRADELINE_APP_PORT"
	EnvDBDSN    = "TRADELINE_DB_DSN"
	EnvDBHost   = "TRADELINE_DB_HOST"
	EnvDBUser   = "TRADELINE_DB_USER"
	EnvDBName   = "TRADELINE_DB_NAME"
	EnvDBPass   = "TRADELINE_DB_PASSWORD"
	EnvDBPort   = "TRADELINE_DB_PORT"
	EnvRedisURL = "TRADELINE_REDIS_URL"

	EnvJWTSecret = "TRADELINE_JWT_SECRET"
	EnvJWTIssuer = "TRADELINE_JWT_ISSUER"

	EnvPaystackSecretKey     = "TRADELINE_PAYSTACK_SECRET_KEY"
	EnvPaystackWebhookSecret = "TRADELINE_PAYSTACK_WEBHOOK_SECRET"

	EnvCommissionSchedule = "TRADELINE_ESCROW_COMMISSION_SCHEDULE"
	EnvFlatRatePercent    = "TRADELINE_ESCROW_FLAT_RATE_PERCENT"
	EnvMatchWindow        = "TRADELINE_ESCROW_MATCH_WINDOW"

	EnvGCPProjectID = "TRADELINE_GCP_PROJECT_ID"
	EnvGCSBucket    = "TRADELINE_GCS_BUCKET_NAME"

	EnvPubSubDomainTopic     = "TRADELINE_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubNotificationSub = "TRADELINE_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubReceiptSub      = "TRADELINE_PUBSUB_RECEIPT_SUBSCRIPTION"
	EnvPubSubAnalyticsSub    = "TRADELINE_PUBSUB_ANALYTICS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
