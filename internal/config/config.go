package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for dagrun
type Config struct {
	// Server configuration
	HTTPPort    int    `env:"DAGRUN_HTTP_PORT" envDefault:"8098"`
	GRPCPort    int    `env:"DAGRUN_GRPC_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Origins accepted in production; development allows all
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://dagrun.example.com"`

	Redis     RedisConfig
	LLM       LLMConfig
	Workers   WorkerConfig
	Isolation IsolationConfig
	Replay    ReplayConfig
	Tasks     TaskConfig
	Timeouts  TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Expiry of task snapshots, requests and logs
	TTL time.Duration `env:"REDIS_TTL" envDefault:"168h"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Lifecycle event stream trimming
	StreamMaxLen int64 `env:"REDIS_STREAM_MAX_LEN" envDefault:"10000"`
}

// LLMConfig holds LLM provider configuration. Without an API key the
// built-in template workers are used.
type LLMConfig struct {
	Provider  string        `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey    string        `env:"LLM_API_KEY"`
	Model     string        `env:"LLM_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	MaxTokens int           `env:"LLM_MAX_TOKENS" envDefault:"2048"`
	Timeout   time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	SimulatedLatency    time.Duration `env:"WORKER_SIMULATED_LATENCY" envDefault:"1s"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// IsolationConfig holds isolation backend configuration
type IsolationConfig struct {
	Enabled      bool          `env:"USE_CONTAINERS" envDefault:"false"`
	Types        []string      `env:"ISOLATION_TYPES" envSeparator:","`
	Shell        string        `env:"ISOLATION_SHELL" envDefault:"sh"`
	Script       string        `env:"ISOLATION_SCRIPT" envDefault:"sleep 2; printf '{\"status\":\"completed\",\"result\":\"Simulated result for %s worker\"}\\n' \"$WORKER_TYPE\""`
	PollInterval time.Duration `env:"ISOLATION_POLL_INTERVAL" envDefault:"1s"`
	Timeout      time.Duration `env:"ISOLATION_TIMEOUT" envDefault:"60s"`
}

// ReplayConfig holds replay timing configuration
type ReplayConfig struct {
	MaxDelay      time.Duration `env:"REPLAY_MAX_DELAY" envDefault:"2s"`
	FallbackDelay time.Duration `env:"REPLAY_FALLBACK_DELAY" envDefault:"500ms"`
	DefaultSpeed  float64       `env:"REPLAY_DEFAULT_SPEED" envDefault:"1"`
	MaxSpeed      float64       `env:"REPLAY_MAX_SPEED" envDefault:"10"`
}

// TaskConfig holds submission limits
type TaskConfig struct {
	MaxDescriptionLength int `env:"MAX_TASK_DESCRIPTION_LENGTH" envDefault:"10000"`
	MaxSubtasks          int `env:"MAX_SUBTASKS" envDefault:"10"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Redis.TTL <= 0 {
		return fmt.Errorf("redis TTL must be positive")
	}

	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}

	if c.Isolation.Enabled {
		if c.Isolation.PollInterval <= 0 || c.Isolation.Timeout <= 0 {
			return fmt.Errorf("isolation poll interval and timeout must be positive")
		}
		if c.Isolation.PollInterval > c.Isolation.Timeout {
			return fmt.Errorf("isolation poll interval %s exceeds timeout %s", c.Isolation.PollInterval, c.Isolation.Timeout)
		}
	}

	if c.Replay.DefaultSpeed <= 0 || c.Replay.MaxSpeed < c.Replay.DefaultSpeed {
		return fmt.Errorf("invalid replay speeds: default %.2f, max %.2f", c.Replay.DefaultSpeed, c.Replay.MaxSpeed)
	}
	if c.Replay.MaxDelay <= 0 {
		return fmt.Errorf("replay max delay must be positive")
	}

	if c.Tasks.MaxDescriptionLength < 1 || c.Tasks.MaxSubtasks < 1 {
		return fmt.Errorf("task limits must be positive")
	}

	if c.Environment != "development" && c.Environment != "production" {
		return fmt.Errorf("invalid environment: %s (must be development or production)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// IsProduction reports whether the production CORS policy applies
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
