package config

import (
	"time"
)

type AppConfig struct {
	APIPort       string `env:"PORT,required" envDefault:"12222"`
	APIKey        string `env:"API_KEY,required"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

type MailflowDatabaseConfig struct {
	Host            string `env:"MAILFLOW_POSTGRES_HOST,required"`
	Port            string `env:"MAILFLOW_POSTGRES_PORT,required"`
	User            string `env:"MAILFLOW_POSTGRES_USER,required"`
	DBName          string `env:"MAILFLOW_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILFLOW_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILFLOW_POSTGRES_DB_MAX_CONN" envDefault:"25"`
	MaxIdleConn     int    `env:"MAILFLOW_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILFLOW_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILFLOW_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILFLOW_POSTGRES_SSL_MODE" envDefault:"require"`
}

// RedisConfig is optional. An empty address keeps the caches in memory only.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"REDIS_CACHE_TTL" envDefault:"1h"`
}

type DirectoryConfig struct {
	Url     string        `env:"DIRECTORY_URL,required"`
	ApiKey  string        `env:"DIRECTORY_API_KEY"`
	Timeout time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"30s"`
}

type LlmConfig struct {
	Url     string        `env:"LLM_URL,required"`
	ApiKey  string        `env:"LLM_API_KEY"`
	Timeout time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
}

type RagConfig struct {
	Url     string        `env:"RAG_URL,required"`
	ApiKey  string        `env:"RAG_API_KEY"`
	Timeout time.Duration `env:"RAG_TIMEOUT" envDefault:"60s"`
}

type MailboxConfig struct {
	MaxRetries       int           `env:"MAILBOX_MAX_RETRIES" envDefault:"3"`
	RetryBase        int           `env:"MAILBOX_RETRY_BASE" envDefault:"3"`
	ReadinessTimeout time.Duration `env:"MAILBOX_READINESS_TIMEOUT" envDefault:"20s"`
	RestartDelay     time.Duration `env:"MAILBOX_RESTART_DELAY" envDefault:"5s"`
	StopTimeout      time.Duration `env:"MAILBOX_STOP_TIMEOUT" envDefault:"10s"`
	SmtpRetryDelay   time.Duration `env:"MAILBOX_SMTP_RETRY_DELAY" envDefault:"3s"`
	QueueSize        int           `env:"MAILBOX_QUEUE_SIZE" envDefault:"100"`
}

// ArchiveConfig points at the R2 bucket for raw messages sent to manual review. Optional.
type ArchiveConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"BUCKET_NAME_MANUAL_REVIEW" envDefault:"manual-review"`
	RetentionDays   int    `env:"MANUAL_REVIEW_RETENTION_DAYS" envDefault:"30"`
}

func (c *ArchiveConfig) Enabled() bool {
	return c != nil && c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != ""
}

type CronConfig struct {
	PodName   string `env:"POD_NAME" envDefault:"local"`
	Namespace string `env:"POD_NAMESPACE" envDefault:"default"`
	LocalDev  bool   `env:"LOCAL_DEV" envDefault:"false"`
}
