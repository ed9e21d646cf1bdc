// Package config loads imagequeue configuration from defaults, config files,
// .env files, IMAGEQUEUE_* environment variables and runtime overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
	Workers   int             `mapstructure:"workers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Generator GeneratorConfig `mapstructure:"generator"`
	CDN       CDNConfig       `mapstructure:"cdn"`
	Poller    PollerConfig    `mapstructure:"poller"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// StorageConfig selects the object store holding manifests and artifacts.
type StorageConfig struct {
	// Provider is s3, file or memory.
	Provider       string `mapstructure:"provider"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	BaseDir        string `mapstructure:"base_dir"`
}

// QueueConfig selects the job queue transport.
type QueueConfig struct {
	// Driver is sqs, redis or memory.
	Driver            string        `mapstructure:"driver"`
	URL               string        `mapstructure:"url"`
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	MaxMessages       int           `mapstructure:"max_messages"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	Redis             RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	Name     string `mapstructure:"name"`
	WorkerID string `mapstructure:"worker_id"`
}

// GeneratorConfig selects the image generation backend.
type GeneratorConfig struct {
	// Provider is stub or openai.
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// APIKey is used as-is when set. Otherwise APIKeySecretID names a Secrets
	// Manager secret fetched once per process.
	APIKey          string `mapstructure:"api_key"`
	APIKeySecretID  string `mapstructure:"api_key_secret_id"`
	SecretsRegion   string `mapstructure:"secrets_region"`
	SecretsEndpoint string `mapstructure:"secrets_endpoint"`

	// RateLimit is requests per second across this process. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type CDNConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type PollerConfig struct {
	MinBackoff           time.Duration `mapstructure:"min_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
}

// Storage providers.
const (
	StorageS3     = "s3"
	StorageFile   = "file"
	StorageMemory = "memory"
)

// Queue drivers.
const (
	QueueSQS    = "sqs"
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// Generator providers.
const (
	GeneratorStub   = "stub"
	GeneratorOpenAI = "openai"
)

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []error
	add := func(path, msg string) {
		problems = append(problems, fmt.Errorf("%s: %s", path, msg))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port", "must be between 0 and 65535")
	}
	if c.Workers < 1 {
		add("workers", "must be at least 1")
	}

	switch c.Storage.Provider {
	case StorageS3:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			add("storage.bucket", "required for s3")
		}
	case StorageFile:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			add("storage.base_dir", "required for file")
		}
	case StorageMemory:
	default:
		add("storage.provider", fmt.Sprintf("unsupported provider %q", c.Storage.Provider))
	}

	switch c.Queue.Driver {
	case QueueSQS:
		if strings.TrimSpace(c.Queue.URL) == "" {
			add("queue.url", "required for sqs")
		}
	case QueueRedis:
		if strings.TrimSpace(c.Queue.Redis.Addr) == "" {
			add("queue.redis.addr", "required for redis")
		}
	case QueueMemory:
	default:
		add("queue.driver", fmt.Sprintf("unsupported driver %q", c.Queue.Driver))
	}

	switch c.Generator.Provider {
	case GeneratorOpenAI:
		if c.Generator.APIKey == "" && c.Generator.APIKeySecretID == "" {
			add("generator.api_key", "api_key or api_key_secret_id required for openai")
		}
	case GeneratorStub:
	default:
		add("generator.provider", fmt.Sprintf("unsupported provider %q", c.Generator.Provider))
	}
	if c.Generator.Timeout <= 0 {
		add("generator.timeout", "must be positive")
	}
	if c.Generator.RateLimit < 0 {
		add("generator.rate_limit", "must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return nil
}
