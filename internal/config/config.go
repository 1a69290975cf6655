// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for the lending API, the reconciler and
// their shared infrastructure: databases, Kafka topics, the M-Pesa gateway and auth.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during startup.
type Config struct {
	Application    ApplicationConfig
	Logging        LoggingConfig
	Server         ServerConfig
	Kafka          KafkaConfig
	Postgres       PostgresConfig
	MongoDB        MongoDBConfig
	Outbox         OutboxConfig
	WorkerPool     WorkerPoolConfig
	Mpesa          MpesaConfig
	Reconciliation ReconciliationConfig
	Auth           AuthConfig
	Lending        LendingConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	C2BTopic          string // Pushed M-Pesa C2B confirmations
	SMSTopic          string // Outbound SMS requests consumed by the SMS gateway
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// OutboxConfig contains audit outbox configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int
}

// WorkerPoolConfig contains notification worker pool configuration
type WorkerPoolConfig struct {
	Size int
}

// MpesaConfig contains payment gateway settings shared by every tenant.
// Per-tenant credentials live with the tenant record.
type MpesaConfig struct {
	BaseURL          string
	CertificatePath  string        // PEM certificate used to encrypt the initiator password
	CallbackBaseURL  string        // Public base URL the gateway calls back on
	RequestTimeout   time.Duration // Hard timeout on disbursement calls
	TokenTimeout     time.Duration // Timeout on OAuth token fetches
	TokenExpiryGuard time.Duration // Subtracted from token lifetime before caching
	CommandID        string
	Remarks          string
}

// ReconciliationConfig contains repayment reconciliation job settings
type ReconciliationConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	Currency        string // Display currency used in notifications
}

// AuthConfig contains JWT validation settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// LendingConfig contains loan policy defaults
type LendingConfig struct {
	DefaultDurationDays int
	MaxDurationDays     int
	DefaultTimezone     string
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.C2BTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_C2B_TOPIC is required")
	}
	if c.Kafka.SMSTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_SMS_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	// Validate M-Pesa config
	if c.Mpesa.BaseURL == "" {
		validationErrors = append(validationErrors, "MPESA_BASE_URL is required")
	}
	if c.Mpesa.CallbackBaseURL == "" {
		validationErrors = append(validationErrors, "MPESA_CALLBACK_BASE_URL is required")
	}
	if c.Mpesa.RequestTimeout <= 0 {
		validationErrors = append(validationErrors, "MPESA_REQUEST_TIMEOUT must be greater than 0")
	}
	if c.Mpesa.TokenTimeout <= 0 {
		validationErrors = append(validationErrors, "MPESA_TOKEN_TIMEOUT must be greater than 0")
	}
	if c.Mpesa.TokenExpiryGuard < 0 {
		validationErrors = append(validationErrors, "MPESA_TOKEN_EXPIRY_GUARD cannot be negative")
	}

	// Validate reconciliation config
	if c.Reconciliation.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "RECONCILIATION_POLLING_INTERVAL must be greater than 0")
	}
	if c.Reconciliation.BatchSize <= 0 {
		validationErrors = append(validationErrors, "RECONCILIATION_BATCH_SIZE must be greater than 0")
	}

	if c.Auth.JWTSecret == "" {
		validationErrors = append(validationErrors, "AUTH_JWT_SECRET is required")
	}

	// Validate lending policy
	if c.Lending.DefaultDurationDays <= 0 {
		validationErrors = append(validationErrors, "LENDING_DEFAULT_DURATION_DAYS must be greater than 0")
	}
	if c.Lending.MaxDurationDays < c.Lending.DefaultDurationDays {
		validationErrors = append(validationErrors, "LENDING_MAX_DURATION_DAYS must not be less than LENDING_DEFAULT_DURATION_DAYS")
	}
	if _, err := time.LoadLocation(c.Lending.DefaultTimezone); err != nil {
		validationErrors = append(validationErrors, "LENDING_DEFAULT_TIMEZONE must be a valid IANA zone")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
