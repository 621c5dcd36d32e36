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
	Pix          PixConfig
	Settlement   SettlementConfig
	Scheduler    SchedulerConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"GGMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"GGMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GGMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GGMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"GGMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GGMARKET_DB_DSN"`
	Driver string `envconfig:"GGMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GGMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"GGMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GGMARKET_DB_USER"`
	LegacyPassword string `envconfig:"GGMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"GGMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"GGMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GGMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GGMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GGMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GGMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GGMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GGMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"GGMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"GGMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GGMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GGMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GGMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GGMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GGMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PixConfig carries the payment gateway credentials. ClientID/ClientSecret
// feed the OAuth client-credentials flow.
type PixConfig struct {
	Env          string        `envconfig:"GGMARKET_PIX_ENV" default:"sandbox"`
	ClientID     string        `envconfig:"GGMARKET_PIX_CLIENT_ID"`
	ClientSecret string        `envconfig:"GGMARKET_PIX_CLIENT_SECRET"`
	ReceiverKey  string        `envconfig:"GGMARKET_PIX_RECEIVER_KEY"`
	Timeout      time.Duration `envconfig:"GGMARKET_PIX_HTTP_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Pix environment (sandbox/production).
func (p PixConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type SettlementConfig struct {
	FeeBps            int           `envconfig:"GGMARKET_SETTLEMENT_FEE_BPS" default:"500"`
	PayoutMode        string        `envconfig:"GGMARKET_SETTLEMENT_PAYOUT_MODE" default:"cashout"`
	AutoCompleteDelay time.Duration `envconfig:"GGMARKET_SETTLEMENT_AUTO_COMPLETE_DELAY" default:"168h"`
	DisputeWindow     time.Duration `envconfig:"GGMARKET_SETTLEMENT_DISPUTE_WINDOW" default:"168h"`
	OrderTTL          time.Duration `envconfig:"GGMARKET_ORDER_TTL" default:"30m"`
}

// CashOutEnabled reports whether released funds leave the platform via the
// external payout rail.
func (s SettlementConfig) CashOutEnabled() bool {
	return strings.EqualFold(s.PayoutMode, "cashout")
}

type SchedulerConfig struct {
	PollInterval time.Duration `envconfig:"GGMARKET_SCHEDULER_POLL_INTERVAL" default:"1s"`
	BatchSize    int           `envconfig:"GGMARKET_SCHEDULER_BATCH_SIZE" default:"25"`
	MaxAttempts  int           `envconfig:"GGMARKET_SCHEDULER_MAX_ATTEMPTS" default:"10"`
	BaseBackoff  time.Duration `envconfig:"GGMARKET_SCHEDULER_BASE_BACKOFF" default:"5s"`
	MaxBackoff   time.Duration `envconfig:"GGMARKET_SCHEDULER_MAX_BACKOFF" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GGMARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GGMARKET_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GGMARKET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"GGMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GGMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"GGMARKET_PUBSUB_NOTIFICATION_TOPIC" default:"gg-notification-events"`
	NotificationSubscription string `envconfig:"GGMARKET_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
	EventsTopic              string `envconfig:"GGMARKET_PUBSUB_EVENTS_TOPIC" default:"gg-domain-events"`
	EventsSubscription       string `envconfig:"GGMARKET_PUBSUB_EVENTS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GGMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GGMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GGMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"GGMARKET_CRON_INTERVAL" default:"10m"`
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
