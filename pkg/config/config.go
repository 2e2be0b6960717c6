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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Auctions     AuctionsConfig
	Settlement   SettlementConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Auctions.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"BUTTONBID_APP_ENV" required:"true"`
	Port         string   `envconfig:"BUTTONBID_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"BUTTONBID_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"BUTTONBID_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"BUTTONBID_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"BUTTONBID_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BUTTONBID_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BUTTONBID_DB_DSN"`
	Driver string `envconfig:"BUTTONBID_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BUTTONBID_DB_HOST"`
	LegacyPort     int    `envconfig:"BUTTONBID_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BUTTONBID_DB_USER"`
	LegacyPassword string `envconfig:"BUTTONBID_DB_PASSWORD"`
	LegacyName     string `envconfig:"BUTTONBID_DB_NAME"`
	LegacySSLMode  string `envconfig:"BUTTONBID_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BUTTONBID_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BUTTONBID_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BUTTONBID_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BUTTONBID_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"BUTTONBID_DB_SLOW_QUERY" default:"250ms"`
	LogQueries         bool          `envconfig:"BUTTONBID_DB_LOG_QUERIES" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BUTTONBID_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BUTTONBID_REDIS_ADDR"`
	Password     string        `envconfig:"BUTTONBID_REDIS_PASSWORD"`
	DB           int           `envconfig:"BUTTONBID_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BUTTONBID_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BUTTONBID_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BUTTONBID_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BUTTONBID_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BUTTONBID_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite           bool `envconfig:"BUTTONBID_USE_SQLITE" default:"false"`
	AutoMigrate         bool `envconfig:"BUTTONBID_AUTO_MIGRATE" default:"false"`
	AllowLazySettlement bool `envconfig:"BUTTONBID_FEATURE_LAZY_SETTLEMENT" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"BUTTONBID_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"BUTTONBID_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BUTTONBID_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BUTTONBID_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BUTTONBID_GOOGLE_APPLICATION_CREDENTIALS"`
}

// PubSubConfig names the feed topics. Ledger events share the auction topic
// unless LedgerTopic is set.
type PubSubConfig struct {
	AuctionTopic             string `envconfig:"BUTTONBID_PUBSUB_AUCTION_TOPIC" default:"bb-auction-events"`
	LedgerTopic              string `envconfig:"BUTTONBID_PUBSUB_LEDGER_TOPIC"`
	NotificationSubscription string `envconfig:"BUTTONBID_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription    string `envconfig:"BUTTONBID_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"BUTTONBID_BIGQUERY_DATASET" default:"buttonbid"`
	AuctionEventsTable string `envconfig:"BUTTONBID_BIGQUERY_AUCTION_TABLE" default:"auction_events"`
	LedgerEventsTable  string `envconfig:"BUTTONBID_BIGQUERY_LEDGER_TABLE" default:"ledger_events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"BUTTONBID_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"BUTTONBID_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"BUTTONBID_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"BUTTONBID_OUTBOX_RETENTION" default:"168h"`
	MetricsAddr    string        `envconfig:"BUTTONBID_OUTBOX_METRICS_ADDR"`
}

// AuctionsConfig controls listing windows and onboarding grants.
type AuctionsConfig struct {
	ClothingWindow      time.Duration `envconfig:"BUTTONBID_CLOTHING_WINDOW" default:"72h"`
	ResaleWindow        time.Duration `envconfig:"BUTTONBID_RESALE_WINDOW" default:"168h"`
	InitialGrantButtons int64         `envconfig:"BUTTONBID_INITIAL_GRANT_BUTTONS" default:"0"`
}

func (a AuctionsConfig) validate() error {
	if a.ClothingWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvClothingWindow)
	}
	if a.ResaleWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvResaleWindow)
	}
	if a.InitialGrantButtons < 0 {
		return fmt.Errorf("%s must not be negative", EnvInitialGrantButtons)
	}
	return nil
}

// SettlementConfig drives the cron worker. LockTTL is the lease each cycle
// holds and renews while jobs run.
type SettlementConfig struct {
	Interval    time.Duration `envconfig:"BUTTONBID_SETTLEMENT_INTERVAL" default:"1m"`
	BatchSize   int           `envconfig:"BUTTONBID_SETTLEMENT_BATCH_SIZE" default:"100"`
	LockTTL     time.Duration `envconfig:"BUTTONBID_CRON_LOCK_TTL" default:"5m"`
	MetricsAddr string        `envconfig:"BUTTONBID_CRON_METRICS_ADDR"`
}

// RateLimitConfig bounds bid attempts per caller within a fixed window.
type RateLimitConfig struct {
	BidWindow    time.Duration `envconfig:"BUTTONBID_BID_RATE_WINDOW" default:"1m"`
	BidUserLimit int           `envconfig:"BUTTONBID_BID_RATE_USER_LIMIT" default:"30"`
	BidIPLimit   int           `envconfig:"BUTTONBID_BID_RATE_IP_LIMIT" default:"120"`
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
