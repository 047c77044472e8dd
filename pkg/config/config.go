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
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	Paystack      PaystackConfig
	Escrow        EscrowConfig
	Scheduler     SchedulerConfig
	Receipts      ReceiptsConfig
	Notifications NotificationsConfig
	GCP           GCPConfig
	GCS           GCSConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Outbox        OutboxConfig
	RateLimit     RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Escrow.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADELINE_APP_ENV" required:"true"`
	Port         string `envconfig:"TRADELINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TRADELINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADELINE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TRADELINE_LOG_FORMAT" default:"json"`
	// CORSOrigins is the browser origin allow-list; dev also admits localhost.
	CORSOrigins []string `envconfig:"TRADELINE_CORS_ORIGINS" default:"https://app.tradeline.ng,https://admin.tradeline.ng"`
}

// ConsoleLogs reports whether logs should be human readable instead of JSON.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "console")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRADELINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRADELINE_DB_DSN"`
	Driver string `envconfig:"TRADELINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRADELINE_DB_HOST"`
	LegacyPort     int    `envconfig:"TRADELINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRADELINE_DB_USER"`
	LegacyPassword string `envconfig:"TRADELINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRADELINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRADELINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRADELINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRADELINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRADELINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADELINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TRADELINE_DB_SLOW_QUERY" default:"500ms"`
	TxRetries       int           `envconfig:"TRADELINE_DB_TX_RETRIES" default:"2"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRADELINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TRADELINE_REDIS_ADDR"`
	Password     string        `envconfig:"TRADELINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRADELINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRADELINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRADELINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRADELINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRADELINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRADELINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies bearer tokens minted by the identity service.
type JWTConfig struct {
	Secret string        `envconfig:"TRADELINE_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"TRADELINE_JWT_ISSUER" required:"true"`
	Leeway time.Duration `envconfig:"TRADELINE_JWT_LEEWAY" default:"30s"`
}

// RateLimitConfig throttles payment initiation per caller and per address.
type RateLimitConfig struct {
	Window         time.Duration `envconfig:"TRADELINE_RATE_LIMIT_WINDOW" default:"1m"`
	PaymentPerUser int           `envconfig:"TRADELINE_RATE_LIMIT_PAYMENT_PER_USER" default:"10"`
	PaymentPerIP   int           `envconfig:"TRADELINE_RATE_LIMIT_PAYMENT_PER_IP" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite         bool `envconfig:"TRADELINE_USE_SQLITE" default:"false"`
	AutoMigrate       bool `envconfig:"TRADELINE_AUTO_MIGRATE" default:"false"`
	DedicatedAccounts bool `envconfig:"TRADELINE_FEATURE_DEDICATED_ACCOUNTS" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"TRADELINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookGuardTTL      time.Duration `envconfig:"TRADELINE_EVENTING_WEBHOOK_GUARD_TTL" default:"72h"`
}

type PaystackConfig struct {
	BaseURL        string        `envconfig:"TRADELINE_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	SecretKey      string        `envconfig:"TRADELINE_PAYSTACK_SECRET_KEY" required:"true"`
	WebhookSecret  string        `envconfig:"TRADELINE_PAYSTACK_WEBHOOK_SECRET"`
	Timeout        time.Duration `envconfig:"TRADELINE_PAYSTACK_TIMEOUT" default:"15s"`
	BalanceTimeout time.Duration `envconfig:"TRADELINE_PAYSTACK_BALANCE_TIMEOUT" default:"5s"`
	MaxRetries     uint64        `envconfig:"TRADELINE_PAYSTACK_MAX_RETRIES" default:"3"`
	RetryBase      time.Duration `envconfig:"TRADELINE_PAYSTACK_RETRY_BASE" default:"200ms"`
	PreferredBank  string        `envconfig:"TRADELINE_PAYSTACK_PREFERRED_BANK" default:"wema-bank"`
	Currency       string        `envconfig:"TRADELINE_PAYSTACK_CURRENCY" default:"NGN"`
}

// SigningSecret returns the secret used for webhook HMAC verification.
// Paystack signs with the account secret key unless a dedicated one is set.
func (p PaystackConfig) SigningSecret() string {
	if strings.TrimSpace(p.WebhookSecret) != "" {
		return p.WebhookSecret
	}
	return p.SecretKey
}

type EscrowConfig struct {
	CommissionSchedule string        `envconfig:"TRADELINE_ESCROW_COMMISSION_SCHEDULE" default:"flat"`
	FlatRatePercent    string        `envconfig:"TRADELINE_ESCROW_FLAT_RATE_PERCENT" default:"3"`
	MatchWindow        time.Duration `envconfig:"TRADELINE_ESCROW_MATCH_WINDOW" default:"20m"`
	PaymentTTL         time.Duration `envconfig:"TRADELINE_ESCROW_PAYMENT_TTL" default:"48h"`
	VerifyAfter        time.Duration `envconfig:"TRADELINE_ESCROW_VERIFY_AFTER" default:"10m"`
	TransferStaleAfter time.Duration `envconfig:"TRADELINE_ESCROW_TRANSFER_STALE_AFTER" default:"30m"`
	HighValueNaira     string        `envconfig:"TRADELINE_ESCROW_HIGH_VALUE_NAIRA" default:"500000"`

	ManualAccountNumber string `envconfig:"TRADELINE_ESCROW_MANUAL_ACCOUNT_NUMBER"`
	ManualBankName      string `envconfig:"TRADELINE_ESCROW_MANUAL_BANK_NAME"`
	ManualAccountName   string `envconfig:"TRADELINE_ESCROW_MANUAL_ACCOUNT_NAME"`
}

// FlatRate returns the configured flat commission as a fraction (3 -> 0.03).
func (e EscrowConfig) FlatRate() decimal.Decimal {
	pct, err := decimal.NewFromString(strings.TrimSpace(e.FlatRatePercent))
	if err != nil {
		return decimal.NewFromInt(3).Div(decimal.NewFromInt(100))
	}
	return pct.Div(decimal.NewFromInt(100))
}

// HighValueKobo returns the threshold above which unmatched events are flagged.
func (e EscrowConfig) HighValueKobo() int64 {
	naira, err := decimal.NewFromString(strings.TrimSpace(e.HighValueNaira))
	if err != nil {
		return 0
	}
	return naira.Mul(decimal.NewFromInt(100)).IntPart()
}

func (e EscrowConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.CommissionSchedule)) {
	case CommissionScheduleFlat, CommissionScheduleTiered:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvCommissionSchedule, CommissionScheduleFlat, CommissionScheduleTiered)
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(e.FlatRatePercent)); err != nil {
		return fmt.Errorf("%s: %w", EnvFlatRatePercent, err)
	}
	if e.MatchWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvMatchWindow)
	}
	return nil
}

type SchedulerConfig struct {
	Interval  time.Duration `envconfig:"TRADELINE_SCHEDULER_INTERVAL" default:"15m"`
	LockTTL   time.Duration `envconfig:"TRADELINE_SCHEDULER_LOCK_TTL" default:"14m"`
	// BatchSize bounds how many rows a single job pass loads.
	BatchSize int           `envconfig:"TRADELINE_SCHEDULER_BATCH_SIZE" default:"100"`
}

type ReceiptsConfig struct {
	Timeout      time.Duration `envconfig:"TRADELINE_RECEIPTS_TIMEOUT" default:"30s"`
	PathPrefix   string        `envconfig:"TRADELINE_RECEIPTS_PATH_PREFIX" default:"receipts"`
	SignedURLTTL time.Duration `envconfig:"TRADELINE_RECEIPTS_SIGNED_URL_TTL" default:"15m"`
}

type NotificationsConfig struct {
	InteractionWindow time.Duration `envconfig:"TRADELINE_NOTIFICATIONS_INTERACTION_WINDOW" default:"24h"`
	RetentionPeriod   time.Duration `envconfig:"TRADELINE_NOTIFICATIONS_RETENTION" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TRADELINE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"TRADELINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TRADELINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"TRADELINE_GCS_BUCKET_NAME" required:"true"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"TRADELINE_PUBSUB_DOMAIN_TOPIC" required:"true"`
	NotificationSubscription string `envconfig:"TRADELINE_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	ReceiptSubscription      string `envconfig:"TRADELINE_PUBSUB_RECEIPT_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription    string `envconfig:"TRADELINE_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset          string        `envconfig:"TRADELINE_BIGQUERY_DATASET" default:"tradeline"`
	SettlementsTable string        `envconfig:"TRADELINE_BIGQUERY_SETTLEMENTS_TABLE" default:"settlement_events"`
	Location         string        `envconfig:"TRADELINE_BIGQUERY_LOCATION"`
	QueryTimeout     time.Duration `envconfig:"TRADELINE_BIGQUERY_QUERY_TIMEOUT" default:"30s"`
	ReportCacheTTL   time.Duration `envconfig:"TRADELINE_ANALYTICS_CACHE_TTL" default:"5m"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"TRADELINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"TRADELINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts     int           `envconfig:"TRADELINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionPeriod time.Duration `envconfig:"TRADELINE_OUTBOX_RETENTION" default:"720h"`
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
