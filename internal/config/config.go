// Package config handles loading and parsing of Tusflow configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for Tusflow.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Upload   UploadConfig   `yaml:"upload"`
	Chunk    ChunkConfig    `yaml:"chunk"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Parallel ParallelConfig `yaml:"parallel"`
	Session  SessionConfig  `yaml:"session"`
	Storage  StorageConfig  `yaml:"storage"`
	Reaper   ReaperConfig   `yaml:"reaper"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text or json.
	Format string `yaml:"format"`
}

// UploadConfig holds protocol-level upload settings.
type UploadConfig struct {
	// MaxSize is the maximum declared upload size in bytes.
	MaxSize int64 `yaml:"max_size"`
	// IncompleteTTLSeconds is the lifetime of an incomplete session. The TTL
	// is refreshed on every session write.
	IncompleteTTLSeconds int `yaml:"incomplete_ttl_seconds"`
	// MaxParts is the backend's maximum part count per multipart upload.
	MaxParts int64 `yaml:"max_parts"`
	// AppendTimeoutSeconds bounds a whole append-chunk request.
	AppendTimeoutSeconds int `yaml:"append_timeout_seconds"`
}

// ChunkConfig holds adaptive chunk sizing constraints.
type ChunkConfig struct {
	// MinSize is the minimum part size in bytes.
	MinSize int64 `yaml:"min_size"`
	// MaxSize is the maximum part size in bytes.
	MaxSize int64 `yaml:"max_size"`
	// MemoryLimit is the per-request memory budget for chunk processing.
	MemoryLimit int64 `yaml:"memory_limit"`
	// NetworkOverhead is the multiplicative overhead factor applied to the
	// memory budget for network operations.
	NetworkOverhead float64 `yaml:"network_overhead"`
}

// RetryConfig holds retry settings for storage and metadata-store calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per operation.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelayMillis is the base backoff delay; the actual delay is
	// base * 2^attempt.
	BaseDelayMillis int `yaml:"base_delay_millis"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// TimeoutMillis is the per-call base timeout; the effective timeout
	// scales with the number of in-flight operations.
	TimeoutMillis int `yaml:"timeout_millis"`
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`
	// ResetTimeoutMillis is how long the breaker stays open before closing
	// on its own.
	ResetTimeoutMillis int `yaml:"reset_timeout_millis"`
}

// ParallelConfig holds bounded-concurrency settings for part uploads.
type ParallelConfig struct {
	// BatchSize caps the number of parts uploaded concurrently within one
	// append request.
	BatchSize int `yaml:"batch_size"`
}

// SessionConfig holds session metadata store settings.
type SessionConfig struct {
	// Engine is the session store engine: "redis", "dynamodb", or "memory".
	Engine   string         `yaml:"engine"`
	Redis    RedisConfig    `yaml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// RedisConfig holds Redis session store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DynamoDBConfig holds DynamoDB session store settings.
type DynamoDBConfig struct {
	Table string `yaml:"table"`
	// Region is the AWS region of the table.
	Region string `yaml:"region"`
	// EndpointURL optionally overrides the DynamoDB endpoint (local testing).
	EndpointURL string `yaml:"endpoint_url"`
}

// StorageConfig holds object storage backend settings.
type StorageConfig struct {
	// Bucket is the S3 bucket uploads are written to.
	Bucket string `yaml:"bucket"`
	// Region is the AWS region of the bucket.
	Region string `yaml:"region"`
	// EndpointURL optionally overrides the S3 endpoint (S3-compatible stores).
	EndpointURL string `yaml:"endpoint_url"`
	// UsePathStyle enables path-style addressing for custom endpoints.
	UsePathStyle bool `yaml:"use_path_style"`
	// AccessKeyID and SecretAccessKey are optional static credentials;
	// when empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// MinPartSize is the backend's minimum size for non-final parts.
	MinPartSize int64 `yaml:"min_part_size"`
}

// ReaperConfig holds stale-session sweep settings.
type ReaperConfig struct {
	// Enabled controls whether the in-process sweep ticker runs.
	Enabled bool `yaml:"enabled"`
	// IntervalSeconds is the time between sweeps.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// IncompleteTTL returns the incomplete-session lifetime as a duration.
func (c *UploadConfig) IncompleteTTL() time.Duration {
	return time.Duration(c.IncompleteTTLSeconds) * time.Second
}

// AppendTimeout returns the append request bound as a duration.
func (c *UploadConfig) AppendTimeout() time.Duration {
	return time.Duration(c.AppendTimeoutSeconds) * time.Second
}

// BaseDelay returns the base backoff delay as a duration.
func (c *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMillis) * time.Millisecond
}

// Timeout returns the per-call base timeout as a duration.
func (c *BreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// ResetTimeout returns the breaker reset window as a duration.
func (c *BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutMillis) * time.Millisecond
}

// Interval returns the sweep interval as a duration.
func (c *ReaperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied for unset values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a Config with the standard defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Upload: UploadConfig{
			MaxSize:              1 << 30, // 1 GiB
			IncompleteTTLSeconds: 24 * 60 * 60,
			MaxParts:             10000,
			AppendTimeoutSeconds: 25,
		},
		Chunk: ChunkConfig{
			MinSize:         5 * 1024 * 1024,
			MaxSize:         50 * 1024 * 1024,
			MemoryLimit:     50 * 1024 * 1024,
			NetworkOverhead: 1.2,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelayMillis: 500,
		},
		Breaker: BreakerConfig{
			TimeoutMillis:      25000,
			FailureThreshold:   3,
			ResetTimeoutMillis: 5000,
		},
		Parallel: ParallelConfig{
			BatchSize: 5,
		},
		Session: SessionConfig{
			Engine: "redis",
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
			},
		},
		Storage: StorageConfig{
			Region:      "us-east-1",
			MinPartSize: 5 * 1024 * 1024,
		},
		Reaper: ReaperConfig{
			Enabled:         true,
			IntervalSeconds: 3600,
		},
	}
}

// applyDefaults fills in any fields still at their zero value after YAML
// unmarshaling.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Upload.MaxSize == 0 {
		cfg.Upload.MaxSize = def.Upload.MaxSize
	}
	if cfg.Upload.IncompleteTTLSeconds == 0 {
		cfg.Upload.IncompleteTTLSeconds = def.Upload.IncompleteTTLSeconds
	}
	if cfg.Upload.MaxParts == 0 {
		cfg.Upload.MaxParts = def.Upload.MaxParts
	}
	if cfg.Upload.AppendTimeoutSeconds == 0 {
		cfg.Upload.AppendTimeoutSeconds = def.Upload.AppendTimeoutSeconds
	}
	if cfg.Chunk.MinSize == 0 {
		cfg.Chunk.MinSize = def.Chunk.MinSize
	}
	if cfg.Chunk.MaxSize == 0 {
		cfg.Chunk.MaxSize = def.Chunk.MaxSize
	}
	if cfg.Chunk.MemoryLimit == 0 {
		cfg.Chunk.MemoryLimit = def.Chunk.MemoryLimit
	}
	if cfg.Chunk.NetworkOverhead == 0 {
		cfg.Chunk.NetworkOverhead = def.Chunk.NetworkOverhead
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelayMillis == 0 {
		cfg.Retry.BaseDelayMillis = def.Retry.BaseDelayMillis
	}
	if cfg.Breaker.TimeoutMillis == 0 {
		cfg.Breaker.TimeoutMillis = def.Breaker.TimeoutMillis
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if cfg.Breaker.ResetTimeoutMillis == 0 {
		cfg.Breaker.ResetTimeoutMillis = def.Breaker.ResetTimeoutMillis
	}
	if cfg.Parallel.BatchSize == 0 {
		cfg.Parallel.BatchSize = def.Parallel.BatchSize
	}
	if cfg.Session.Engine == "" {
		cfg.Session.Engine = def.Session.Engine
	}
	if cfg.Session.Redis.Addr == "" {
		cfg.Session.Redis.Addr = def.Session.Redis.Addr
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = def.Storage.Region
	}
	if cfg.Storage.MinPartSize == 0 {
		cfg.Storage.MinPartSize = def.Storage.MinPartSize
	}
	if cfg.Reaper.IntervalSeconds == 0 {
		cfg.Reaper.IntervalSeconds = def.Reaper.IntervalSeconds
	}
}
