package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const defaultSQLiteDSN = "file:stockledger.db?cache=shared&_busy_timeout=5000"

type Config struct {
	App            AppConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Terminal       TerminalConfig
	Reconciliation ReconciliationConfig
	Audit          AuditConfig
	FeatureFlags   FeatureFlagsConfig
	Outbox         OutboxConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = defaultSQLiteDSN
		}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Terminal.TimeWindowMinutes <= 0 {
		return nil, fmt.Errorf("%s must be positive", EnvTerminalTimeWindow)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOCKLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"STOCKLEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOCKLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOCKLEDGER_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"STOCKLEDGER_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"STOCKLEDGER_DB_DSN"`
	Driver string `envconfig:"STOCKLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOCKLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"STOCKLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOCKLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"STOCKLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOCKLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOCKLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOCKLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKLEDGER_REDIS_URL"`
	Address      string        `envconfig:"STOCKLEDGER_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"STOCKLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOCKLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOCKLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOCKLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOCKLEDGER_JWT_ISSUER" default:"stockledger"`
	ExpirationMinutes int    `envconfig:"STOCKLEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

// TerminalConfig drives the HMAC gate in front of terminal endpoints.
type TerminalConfig struct {
	TimeWindowMinutes int  `envconfig:"STOCKLEDGER_TERMINAL_TIME_WINDOW_MINUTES" default:"5"`
	ReplayGuard       bool `envconfig:"STOCKLEDGER_TERMINAL_REPLAY_GUARD" default:"true"`

	// RateLimitPerMinute caps signed requests per terminal; zero disables it.
	RateLimitPerMinute int `envconfig:"STOCKLEDGER_TERMINAL_RATE_LIMIT_PER_MINUTE" default:"120"`
}

// TimeWindow returns the accepted clock skew for signed terminal requests.
func (t TerminalConfig) TimeWindow() time.Duration {
	return time.Duration(t.TimeWindowMinutes) * time.Minute
}

type ReconciliationConfig struct {
	IntervalHours    int           `envconfig:"STOCKLEDGER_RECONCILIATION_INTERVAL_HOURS" default:"1"`
	StaleRunningTTL  time.Duration `envconfig:"STOCKLEDGER_RECONCILIATION_STALE_RUNNING_TTL" default:"30m"`
	PendingSaleTTL   time.Duration `envconfig:"STOCKLEDGER_RECONCILIATION_PENDING_SALE_TTL" default:"24h"`
	MaxBatchSize     int           `envconfig:"STOCKLEDGER_RECONCILIATION_MAX_BATCH_SIZE" default:"1000"`
	SweepBatchLimit  int           `envconfig:"STOCKLEDGER_RECONCILIATION_SWEEP_BATCH_LIMIT" default:"200"`
	OutboxRetainDays int           `envconfig:"STOCKLEDGER_OUTBOX_RETAIN_DAYS" default:"30"`
	DLQRetainDays    int           `envconfig:"STOCKLEDGER_OUTBOX_DLQ_RETAIN_DAYS" default:"90"`
}

// Interval returns the cron cadence for reconciliation housekeeping.
func (r ReconciliationConfig) Interval() time.Duration {
	if r.IntervalHours <= 0 {
		return time.Hour
	}
	return time.Duration(r.IntervalHours) * time.Hour
}

type AuditConfig struct {
	Enabled bool `envconfig:"STOCKLEDGER_AUDIT_ENABLED" default:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOCKLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOCKLEDGER_AUTO_MIGRATE" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOCKLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOCKLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOCKLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STOCKLEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"STOCKLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STOCKLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AuditTopic string `envconfig:"STOCKLEDGER_PUBSUB_AUDIT_TOPIC" default:"stockledger-audit"`
	// OrderedDelivery keys messages by aggregate id so a subscriber sees a
	// sale's create, confirm and cancel in commit order.
	OrderedDelivery bool `envconfig:"STOCKLEDGER_PUBSUB_ORDERED" default:"true"`
	BatchDelayMS    int  `envconfig:"STOCKLEDGER_PUBSUB_BATCH_DELAY_MS" default:"10"`
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
