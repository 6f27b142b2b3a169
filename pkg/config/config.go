package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/authcheck/pkg/observability"
	"github.com/platinummonkey/authcheck/pkg/storage"
	"github.com/platinummonkey/authcheck/pkg/storage/postgres"
)

// Queue backends
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Task queue configuration
	Queue QueueConfig `yaml:"queue"`

	// Verification schedule configuration
	Check CheckConfig `yaml:"check"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	// Health/metrics server (separate port for k8s probes)
	HealthPort      string        `yaml:"health_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

// QueueConfig selects and tunes the task queue
type QueueConfig struct {
	Backend     string        `yaml:"backend"` // memory, redis
	Workers     int           `yaml:"workers"`
	TaskTimeout time.Duration `yaml:"task_timeout"`

	RedisURL      string `yaml:"redis_url"`
	RedisKey      string `yaml:"redis_key"`
	RedisPoolSize int    `yaml:"redis_pool_size"`
}

// CheckConfig holds the verification schedule
type CheckConfig struct {
	// Interval is the time between sweeps, the staleness cutoff and the
	// expiry of enqueued tasks
	Interval           time.Duration `yaml:"interval"`
	RunOnce            bool          `yaml:"run_once"`
	ValidatorCacheSize int           `yaml:"validator_cache_size"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HealthPort:      "9090",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL:         "postgres://localhost/authcheck?sslmode=disable",
			MaxConns:    20,
			MinConns:    2,
			Timeout:     5 * time.Second,
			MaxLifetime: time.Hour,
			MaxIdleTime: 10 * time.Minute,
			AutoMigrate: true,
		},
		Queue: QueueConfig{
			Backend:       QueueMemory,
			Workers:       8,
			TaskTimeout:   2 * time.Minute,
			RedisKey:      "authcheck:tasks",
			RedisPoolSize: 10,
		},
		Check: CheckConfig{
			Interval:           time.Hour,
			ValidatorCacheSize: 256,
			HTTPTimeout:        30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "authcheck",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from the file named by AUTHCHECK_CONFIG_FILE
// (if set) and environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("AUTHCHECK_CONFIG_FILE"))
}

// Load applies, in order, the defaults, the YAML file at path (skipped when
// path is empty) and environment variables, then validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides cfg with the AUTHCHECK_* environment variables
func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.HealthPort = getEnv("AUTHCHECK_HEALTH_PORT", s.HealthPort)
	s.ShutdownTimeout = getEnvDuration("AUTHCHECK_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	d := &cfg.Database
	d.URL = getEnv("DATABASE_URL", d.URL)
	d.URL = getEnv("AUTHCHECK_DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("AUTHCHECK_DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("AUTHCHECK_DATABASE_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("AUTHCHECK_DATABASE_TIMEOUT", d.Timeout)
	d.MaxLifetime = getEnvDuration("AUTHCHECK_DATABASE_MAX_LIFETIME", d.MaxLifetime)
	d.MaxIdleTime = getEnvDuration("AUTHCHECK_DATABASE_MAX_IDLE_TIME", d.MaxIdleTime)
	d.AutoMigrate = getEnvBool("AUTHCHECK_DATABASE_AUTO_MIGRATE", d.AutoMigrate)

	q := &cfg.Queue
	q.Backend = strings.ToLower(getEnv("AUTHCHECK_QUEUE_BACKEND", q.Backend))
	q.Workers = getEnvInt("AUTHCHECK_QUEUE_WORKERS", q.Workers)
	q.TaskTimeout = getEnvDuration("AUTHCHECK_QUEUE_TASK_TIMEOUT", q.TaskTimeout)
	q.RedisURL = getEnv("AUTHCHECK_REDIS_URL", q.RedisURL)
	q.RedisKey = getEnv("AUTHCHECK_REDIS_KEY", q.RedisKey)
	q.RedisPoolSize = getEnvInt("AUTHCHECK_REDIS_POOL_SIZE", q.RedisPoolSize)

	c := &cfg.Check
	c.Interval = getEnvDuration("AUTHCHECK_CHECK_INTERVAL", c.Interval)
	c.RunOnce = getEnvBool("AUTHCHECK_RUN_ONCE", c.RunOnce)
	c.ValidatorCacheSize = getEnvInt("AUTHCHECK_VALIDATOR_CACHE_SIZE", c.ValidatorCacheSize)
	c.HTTPTimeout = getEnvDuration("AUTHCHECK_HTTP_TIMEOUT", c.HTTPTimeout)

	o := &cfg.Observability
	o.LogLevel = getEnv("AUTHCHECK_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("AUTHCHECK_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("AUTHCHECK_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("AUTHCHECK_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("AUTHCHECK_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("AUTHCHECK_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("AUTHCHECK_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("AUTHCHECK_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	switch c.Queue.Backend {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis queue")
		}
		if c.Queue.RedisKey == "" {
			return fmt.Errorf("redis key is required for the redis queue")
		}
	default:
		return fmt.Errorf("invalid queue backend: %s (must be memory or redis)", c.Queue.Backend)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive")
	}
	if c.Queue.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive")
	}

	if c.Check.Interval < time.Second {
		return fmt.Errorf("check interval must be at least 1s, got %s", c.Check.Interval)
	}

	if _, ok := parseLogLevel(c.Observability.LogLevel); !ok {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

// Level returns the configured log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	level, _ := parseLogLevel(o.LogLevel)
	return level
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Connection returns the PostgreSQL pool settings
func (d DatabaseConfig) Connection() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:         d.URL,
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		Timeout:     d.Timeout,
		MaxLifetime: d.MaxLifetime,
		MaxIdleTime: d.MaxIdleTime,
	}
}

// Redis returns the Redis client settings of the redis queue
func (q QueueConfig) Redis() storage.RedisConfig {
	return storage.RedisConfig{
		URL:      q.RedisURL,
		PoolSize: q.RedisPoolSize,
	}
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) (observability.LogLevel, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel, true
	case "info", "":
		return observability.InfoLevel, true
	case "warn", "warning":
		return observability.WarnLevel, true
	case "error":
		return observability.ErrorLevel, true
	default:
		return observability.InfoLevel, false
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
