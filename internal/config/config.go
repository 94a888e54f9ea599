// Package config provides configuration management for the bibliography workflow service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the bibliography workflow service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Auth contains JWT and password hashing settings.
	Auth AuthConfig `mapstructure:"auth"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// AI contains AI provider settings for extraction, query generation, and summaries.
	AI AIConfig `mapstructure:"ai"`
	// Sources contains paper source API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Workflow contains orchestration limits and retry policy.
	Workflow WorkflowConfig `mapstructure:"workflow"`
	// Kafka contains Kafka settings for the outbox relay and billing consumer.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Outbox contains outbox relay settings.
	Outbox OutboxConfig `mapstructure:"outbox"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. Streaming
	// workflow endpoints need this to exceed the longest expected run.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// JWTSecret signs access tokens (loaded from BIBLIOGRAPHY_AUTH_JWT_SECRET env var).
	JWTSecret string `mapstructure:"-"`
	// TokenExpiry is the lifetime of issued access tokens.
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	// Issuer is the iss claim for issued tokens.
	Issuer string `mapstructure:"issuer"`
	// BCryptCost is the bcrypt work factor for password hashing.
	BCryptCost int `mapstructure:"bcrypt_cost"`
	// InitialCredits is the credit balance granted to new accounts.
	InitialCredits int `mapstructure:"initial_credits"`
	// AllowRegistration enables self-service signup. When false only the
	// admin API can create users.
	AllowRegistration bool `mapstructure:"allow_registration"`
	// AdminEmail is the bootstrap admin upserted at startup; empty skips
	// the bootstrap.
	AdminEmail string `mapstructure:"admin_email"`
	// AdminPassword is the bootstrap admin password
	// (loaded from BIBLIOGRAPHY_AUTH_ADMIN_PASSWORD env var).
	AdminPassword string `mapstructure:"-"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// AIConfig holds AI provider configuration.
type AIConfig struct {
	// DirectionProvider selects the provider for direction extraction.
	DirectionProvider string `mapstructure:"direction_provider"`
	// QueryProvider selects the provider for query generation.
	QueryProvider string `mapstructure:"query_provider"`
	// SummaryProvider selects the provider for article summaries.
	// Empty disables summarization.
	SummaryProvider string `mapstructure:"summary_provider"`
	// Timeout is the timeout for AI provider calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// Temperature is the sampling temperature for all roles.
	Temperature float64 `mapstructure:"temperature"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
	// Gemini contains Google Gemini-specific settings.
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// OpenAIConfig holds OpenAI-specific settings. BaseURL makes any
// OpenAI-compatible endpoint usable.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (loaded from BIBLIOGRAPHY_AI_OPENAI_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the OpenAI model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the OpenAI API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig holds Google Gemini-specific settings.
type GeminiConfig struct {
	// APIKey is the Gemini API key (loaded from BIBLIOGRAPHY_AI_GEMINI_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the Gemini model name.
	Model string `mapstructure:"model"`
	// BaseURL is the Generative Language API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// SourcesConfig holds configuration for all paper source APIs.
type SourcesConfig struct {
	// PubMed contains PubMed E-utilities settings.
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// Embase contains Elsevier Embase settings.
	Embase EmbaseConfig `mapstructure:"embase"`
}

// PubMedConfig holds PubMed E-utilities settings.
type PubMedConfig struct {
	// Enabled controls whether this source is registered.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the E-utilities base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey raises NCBI rate limits (loaded from BIBLIOGRAPHY_SOURCES_PUBMED_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Email identifies the caller to NCBI per their usage policy.
	Email string `mapstructure:"email"`
	// SearchTimeout is the timeout for esearch calls.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	// FetchTimeout is the timeout for efetch calls.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// RateLimit is the maximum requests per second without an API key.
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateLimitWithKey is the maximum requests per second with an API key.
	RateLimitWithKey float64 `mapstructure:"rate_limit_with_key"`
}

// EmbaseConfig holds Elsevier Embase settings.
type EmbaseConfig struct {
	// Enabled controls whether this source is registered.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the Elsevier content API base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is required by Elsevier (loaded from BIBLIOGRAPHY_SOURCES_EMBASE_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// InstToken is an optional institutional token (loaded from BIBLIOGRAPHY_SOURCES_EMBASE_INSTTOKEN env var).
	InstToken string `mapstructure:"-"`
	// Timeout is the timeout for search calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// WorkflowConfig holds orchestration limits and the retry policy.
type WorkflowConfig struct {
	// SearchConcurrency is the size of the shared search permit pool.
	// Values below 1 are clamped to 1.
	SearchConcurrency int `mapstructure:"search_concurrency"`
	// MaxQueryRewrites bounds rewrite attempts per direction.
	MaxQueryRewrites int `mapstructure:"max_query_rewrites"`
	// MaxDirections caps the requested direction count.
	MaxDirections int `mapstructure:"max_directions"`
	// DefaultMaxResults is the per-direction article cap when the request
	// does not specify one.
	DefaultMaxResults int `mapstructure:"default_max_results"`
	// Retry is the retry policy for outbound source calls.
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds the retry policy for transient source failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries"`
	// BackoffBase is the base delay for exponential backoff.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffCap bounds every computed delay, including Retry-After hints.
	BackoffCap time.Duration `mapstructure:"backoff_cap"`
}

// KafkaConfig holds Kafka settings for the outbox relay and billing consumer.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing and consuming are active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// OutboxTopic is the topic outbox events are published to.
	OutboxTopic string `mapstructure:"outbox_topic"`
	// BillingTopic is the topic credit grants are consumed from.
	BillingTopic string `mapstructure:"billing_topic"`
	// ConsumerGroup is the consumer group for the billing listener.
	ConsumerGroup string `mapstructure:"consumer_group"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutboxConfig holds outbox relay settings.
type OutboxConfig struct {
	// PollInterval is how often the relay polls for pending events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of events to publish per batch.
	BatchSize int `mapstructure:"batch_size"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// EffectiveRateLimit returns the requests-per-second budget PubMed allows
// for the configured credentials.
func (c *PubMedConfig) EffectiveRateLimit() float64 {
	if c.APIKey != "" {
		return c.RateLimitWithKey
	}
	return c.RateLimit
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("BIBLIOGRAPHY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bibliography-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Auth.JWTSecret = os.Getenv("BIBLIOGRAPHY_AUTH_JWT_SECRET")
	cfg.Auth.AdminPassword = os.Getenv("BIBLIOGRAPHY_AUTH_ADMIN_PASSWORD")

	// AI provider API keys.
	cfg.AI.OpenAI.APIKey = os.Getenv("BIBLIOGRAPHY_AI_OPENAI_API_KEY")
	cfg.AI.Gemini.APIKey = os.Getenv("BIBLIOGRAPHY_AI_GEMINI_API_KEY")

	// Paper source credentials.
	cfg.Sources.PubMed.APIKey = os.Getenv("BIBLIOGRAPHY_SOURCES_PUBMED_API_KEY")
	cfg.Sources.Embase.APIKey = os.Getenv("BIBLIOGRAPHY_SOURCES_EMBASE_API_KEY")
	cfg.Sources.Embase.InstToken = os.Getenv("BIBLIOGRAPHY_SOURCES_EMBASE_INSTTOKEN")
}

// normalize clamps values the service tolerates rather than rejects.
func (c *Config) normalize() {
	if c.Workflow.SearchConcurrency < 1 {
		c.Workflow.SearchConcurrency = 1
	}
	if c.Workflow.DefaultMaxResults < 1 {
		c.Workflow.DefaultMaxResults = 1
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	// Buffered workflow responses and SSE streams stay open for the whole run.
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bibliography")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "bibliography_service")
	// Default to "require" for production security. Use BIBLIOGRAPHY_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Auth defaults
	v.SetDefault("auth.token_expiry", "24h")
	v.SetDefault("auth.issuer", "bibliography-service")
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.initial_credits", 10)
	v.SetDefault("auth.allow_registration", true)
	v.SetDefault("auth.admin_email", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// AI defaults
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("ai.direction_provider", "openai")
	v.SetDefault("ai.query_provider", "openai")
	v.SetDefault("ai.summary_provider", "")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.gemini.model", "gemini-2.0-flash")
	v.SetDefault("ai.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")

	// Source defaults - PubMed
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.email", "")
	v.SetDefault("sources.pubmed.search_timeout", "20s")
	v.SetDefault("sources.pubmed.fetch_timeout", "30s")
	v.SetDefault("sources.pubmed.rate_limit", 3.0) // NCBI allows 3 req/sec without an API key
	v.SetDefault("sources.pubmed.rate_limit_with_key", 10.0)

	// Source defaults - Embase (disabled by default, requires API key)
	v.SetDefault("sources.embase.enabled", false)
	v.SetDefault("sources.embase.base_url", "https://api.elsevier.com/content")
	v.SetDefault("sources.embase.timeout", "30s")
	v.SetDefault("sources.embase.rate_limit", 5.0)

	// Workflow defaults
	v.SetDefault("workflow.search_concurrency", 3)
	v.SetDefault("workflow.max_query_rewrites", 3)
	v.SetDefault("workflow.max_directions", 12)
	v.SetDefault("workflow.default_max_results", 3)
	v.SetDefault("workflow.retry.max_retries", 4)
	v.SetDefault("workflow.retry.backoff_base", "600ms")
	v.SetDefault("workflow.retry.backoff_cap", "10s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.outbox_topic", "events.outbox.bibliography_service")
	v.SetDefault("kafka.billing_topic", "billing.credits")
	v.SetDefault("kafka.consumer_group", "bibliography-service.billing")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Outbox relay defaults
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.batch_size", 100)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate auth config
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("BIBLIOGRAPHY_AUTH_JWT_SECRET must be set")
	}
	if c.Auth.BCryptCost < 4 || c.Auth.BCryptCost > 31 {
		return fmt.Errorf("invalid bcrypt cost: %d", c.Auth.BCryptCost)
	}
	if c.Auth.InitialCredits < 0 {
		return fmt.Errorf("initial credits must not be negative")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate workflow config
	if c.Workflow.MaxQueryRewrites < 0 {
		return fmt.Errorf("max query rewrites must not be negative")
	}
	if c.Workflow.MaxDirections <= 0 {
		return fmt.Errorf("max directions must be positive")
	}
	if c.Workflow.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if c.Workflow.Retry.BackoffBase <= 0 {
		return fmt.Errorf("retry backoff_base must be positive")
	}
	if c.Workflow.Retry.BackoffCap < c.Workflow.Retry.BackoffBase {
		return fmt.Errorf("retry backoff_cap (%s) must be >= backoff_base (%s)",
			c.Workflow.Retry.BackoffCap, c.Workflow.Retry.BackoffBase)
	}

	// Validate that the configured AI providers have their required API keys set.
	for role, provider := range map[string]string{
		"direction_provider": c.AI.DirectionProvider,
		"query_provider":     c.AI.QueryProvider,
		"summary_provider":   c.AI.SummaryProvider,
	} {
		switch strings.ToLower(provider) {
		case "":
			// Summary provider may be empty; extraction and query roles fall
			// back to rule-based behavior at call time.
		case "openai":
			if c.AI.OpenAI.APIKey == "" {
				return fmt.Errorf("%s %q requires BIBLIOGRAPHY_AI_OPENAI_API_KEY to be set", role, provider)
			}
		case "gemini":
			if c.AI.Gemini.APIKey == "" {
				return fmt.Errorf("%s %q requires BIBLIOGRAPHY_AI_GEMINI_API_KEY to be set", role, provider)
			}
		default:
			return fmt.Errorf("unknown AI provider %q for %s", provider, role)
		}
	}

	// At least one paper source must be usable.
	if !c.Sources.PubMed.Enabled && !c.Sources.Embase.Enabled {
		return fmt.Errorf("at least one paper source must be enabled")
	}
	if c.Sources.Embase.Enabled && c.Sources.Embase.APIKey == "" {
		return fmt.Errorf("embase requires BIBLIOGRAPHY_SOURCES_EMBASE_API_KEY to be set")
	}

	// Kafka config is only checked when enabled.
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.OutboxTopic == "" {
			return fmt.Errorf("kafka outbox topic is required when kafka is enabled")
		}
	}

	return nil
}
