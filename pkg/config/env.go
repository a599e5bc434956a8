package config

const (
	EnvPrefix = "STOCKLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "STOCKLEDGER_APP_ENV"
	EnvPort               = "STOCKLEDGER_APP_PORT"
	EnvDBDSN              = "STOCKLEDGER_DB_DSN"
	EnvDBHost             = "STOCKLEDGER_DB_HOST"
	EnvDBUser             = "STOCKLEDGER_DB_USER"
	EnvDBName             = "STOCKLEDGER_DB_NAME"
	EnvRedisURL           = "STOCKLEDGER_REDIS_URL"
	EnvJWTSecret          = "STOCKLEDGER_JWT_SECRET"
	EnvTerminalTimeWindow = "STOCKLEDGER_TERMINAL_TIME_WINDOW_MINUTES"
	EnvReconcileInterval  = "STOCKLEDGER_RECONCILIATION_INTERVAL_HOURS"
	EnvAuditEnabled       = "STOCKLEDGER_AUDIT_ENABLED"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
