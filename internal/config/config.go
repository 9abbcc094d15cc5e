package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs"     validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port"       validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level"  validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains all authentication and authorization settings.
// Token issuance happens upstream in the host application; this service
// only verifies bearer tokens to resolve the owner identity.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// JobsConfig contains the job subsystem's tunable policy settings.
type JobsConfig struct {
	// DefaultMaxJobs caps how many jobs a single run may claim when the
	// caller does not supply its own ceiling.
	DefaultMaxJobs int `mapstructure:"default_max_jobs" validate:"required,gt=0"`

	// StuckThresholdMinutes is how long a job may sit in processing before
	// it is considered stuck.
	StuckThresholdMinutes int `mapstructure:"stuck_threshold_minutes" validate:"required,gt=0"`

	// MaxRetries bounds automatic retry attempts per job.
	MaxRetries int `mapstructure:"max_retries" validate:"required,gt=0"`

	// RetryBaseIntervalMinutes is the smart-backoff base interval; the
	// computed delay is min(attempts, backoff cap) times this value.
	RetryBaseIntervalMinutes int `mapstructure:"retry_base_interval_minutes" validate:"required,gt=0"`

	// DispatchRatePerSecond throttles handler dispatch to protect
	// rate-limited provider APIs. Zero disables the limiter.
	DispatchRatePerSecond float64 `mapstructure:"dispatch_rate_per_second" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	Model             string `mapstructure:"model"`
	EmbeddingModel    string `mapstructure:"embedding_model"`
	MaxRetries        int    `mapstructure:"max_retries"        validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}
