// Package constants provides centralized definitions of constants used throughout the application
package constants

// Environment variable names
const (
	// EnvLogLevel selects the logrus level (trace, debug, info, warn, error)
	EnvLogLevel = "LOG_LEVEL"
	// EnvLogFormat selects the log output format (json or text)
	EnvLogFormat = "LOG_FORMAT"

	// EnvServerPort is the port the API server listens on
	EnvServerPort = "SERVICEGRID_PORT"
	// EnvServerAddress is the API base URL used by the CLI
	EnvServerAddress = "SERVICEGRID_SERVER_ADDRESS"

	// EnvDBEnabled toggles persistence; when false the engine keeps state in memory
	EnvDBEnabled = "DB_ENABLED"
	// EnvDBHost is the database host
	EnvDBHost = "DB_HOST"
	// EnvDBPort is the database port
	EnvDBPort = "DB_PORT"
	// EnvDBUser is the database user
	EnvDBUser = "DB_USER"
	// EnvDBPassword is the database password
	EnvDBPassword = "DB_PASSWORD"
	// EnvDBName is the database name
	EnvDBName = "DB_NAME"
	// EnvDBSSLEnabled enables TLS to the database
	EnvDBSSLEnabled = "DB_SSL_ENABLED"
	// EnvDBMaxOpenConns caps the database connection pool
	EnvDBMaxOpenConns = "DB_MAX_OPEN_CONNS"

	// EnvPolicyFile is the path of the security policy YAML file
	EnvPolicyFile = "SERVICEGRID_POLICY_FILE"
	// EnvWorkflowFile is the path of the approval rules and SLA table YAML file
	EnvWorkflowFile = "SERVICEGRID_WORKFLOW_FILE"
	// EnvAdaptersFile is the path of the integration adapter registry YAML file
	EnvAdaptersFile = "SERVICEGRID_ADAPTERS_FILE"

	// EnvRetentionWindow is how long finished jobs stay in the live scheduler index
	EnvRetentionWindow = "SERVICEGRID_RETENTION_WINDOW"
	// EnvSweepInterval is how often the retention sweep runs
	EnvSweepInterval = "SERVICEGRID_SWEEP_INTERVAL"
	// EnvSLAMonitorInterval is how often open jobs are checked against their SLA deadline
	EnvSLAMonitorInterval = "SERVICEGRID_SLA_MONITOR_INTERVAL"
	// EnvEscalationWebhookURL receives SLA breach notifications
	EnvEscalationWebhookURL = "SERVICEGRID_ESCALATION_WEBHOOK_URL"
	// EnvEscalationWebhookTimeout bounds one escalation delivery
	EnvEscalationWebhookTimeout = "SERVICEGRID_ESCALATION_WEBHOOK_TIMEOUT"
	// EnvShutdownTimeout bounds graceful shutdown of the API server and running jobs
	EnvShutdownTimeout = "SERVICEGRID_SHUTDOWN_TIMEOUT"

	// EnvArchiveEndpoint is the S3-compatible endpoint used for audit archives
	EnvArchiveEndpoint = "SERVICEGRID_ARCHIVE_ENDPOINT"
	// EnvArchiveAccessKey is the access key of the archive bucket
	EnvArchiveAccessKey = "SERVICEGRID_ARCHIVE_ACCESS_KEY"
	// EnvArchiveSecretKey is the secret key of the archive bucket
	EnvArchiveSecretKey = "SERVICEGRID_ARCHIVE_SECRET_KEY"
	// EnvArchiveBucket is the bucket that receives audit archives
	EnvArchiveBucket = "SERVICEGRID_ARCHIVE_BUCKET"
	// EnvArchiveUseSSL enables TLS to the archive endpoint
	EnvArchiveUseSSL = "SERVICEGRID_ARCHIVE_USE_SSL"
	// EnvArchivePrefix is the object name prefix of audit archives
	EnvArchivePrefix = "SERVICEGRID_ARCHIVE_PREFIX"
)
