package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PRINTRELEASE_"

type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Release   ReleaseConfig   `yaml:"release" envPrefix:"RELEASE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	RateLimit RateLimitConfig `yaml:"ratelimit" envPrefix:"RATELIMIT_"`
	Webhooks  WebhooksConfig  `yaml:"webhooks" envPrefix:"WEBHOOKS_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
}

type ServerConfig struct {
	Port             int           `yaml:"port" env:"PORT"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	PublicBaseURL    string        `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	MaxDocumentBytes int64         `yaml:"max_document_bytes" env:"MAX_DOCUMENT_BYTES"`
}

type DatabaseConfig struct {
	Path              string `yaml:"path" env:"PATH"`
	ArchivePath       string `yaml:"archive_path" env:"ARCHIVE_PATH"`
	ArchiveDays       int    `yaml:"archive_days" env:"ARCHIVE_DAYS"`
	ArchivePassphrase string `yaml:"archive_passphrase" env:"ARCHIVE_PASSPHRASE"`
}

// ReleaseConfig governs link lifetimes and the background loops that
// enforce them.
type ReleaseConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	MaxTTL          time.Duration `yaml:"max_ttl" env:"MAX_TTL"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	SweepBatchSize  int           `yaml:"sweep_batch_size" env:"SWEEP_BATCH_SIZE"`
	CompletionDelay time.Duration `yaml:"completion_delay" env:"COMPLETION_DELAY"`
	WorkerCount     int           `yaml:"worker_count" env:"WORKER_COUNT"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type RateLimitConfig struct {
	Capacity        int     `yaml:"capacity" env:"CAPACITY"`
	RefillPerSecond float64 `yaml:"refill_per_second" env:"REFILL_PER_SECOND"`
}

type WebhooksConfig struct {
	RetryCount  int           `yaml:"retry_count" env:"RETRY_COUNT"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	WorkerCount int           `yaml:"worker_count" env:"WORKER_COUNT"`
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			PublicBaseURL:    "http://localhost:8080",
			MaxDocumentBytes: 25 << 20,
		},
		Database: DatabaseConfig{
			Path:        "./data/printrelease.db",
			ArchivePath: "./data/archives",
			ArchiveDays: 30,
		},
		Release: ReleaseConfig{
			DefaultTTL:     15 * time.Minute,
			MaxTTL:         7 * 24 * time.Hour,
			SweepInterval:  60 * time.Second,
			SweepBatchSize: 500,
			WorkerCount:    2,
		},
		RateLimit: RateLimitConfig{
			Capacity:        20,
			RefillPerSecond: 0.5,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads the YAML file at configPath over the defaults and then applies
// PRINTRELEASE_* environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if !strings.HasPrefix(c.Server.PublicBaseURL, "http://") && !strings.HasPrefix(c.Server.PublicBaseURL, "https://") {
		return fmt.Errorf("public base url must start with http:// or https://, got %q", c.Server.PublicBaseURL)
	}

	if c.Server.MaxDocumentBytes < 1 {
		return fmt.Errorf("max document bytes must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.ArchiveDays < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	if c.Release.DefaultTTL <= 0 {
		return fmt.Errorf("release default ttl must be positive")
	}

	if c.Release.MaxTTL < c.Release.DefaultTTL {
		return fmt.Errorf("release max ttl (%s) must be at least the default ttl (%s)", c.Release.MaxTTL, c.Release.DefaultTTL)
	}

	if c.Release.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if c.Release.SweepBatchSize < 1 {
		return fmt.Errorf("sweep batch size must be at least 1")
	}

	if c.Release.CompletionDelay < 0 {
		return fmt.Errorf("completion delay must be non-negative")
	}

	if c.Release.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	if c.RateLimit.Capacity < 1 {
		return fmt.Errorf("rate limit capacity must be at least 1")
	}

	if c.RateLimit.RefillPerSecond <= 0 {
		return fmt.Errorf("rate limit refill must be positive")
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	if c.Webhooks.RetryDelay < 0 {
		return fmt.Errorf("webhook retry delay must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
