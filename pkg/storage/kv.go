package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is durable string storage keyed by name. It backs the persisted session
// credentials and the selected organization.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ChangeFunc is called with a key whose value was changed by another process.
type ChangeFunc func(key string)

// Watcher is implemented by backends that can observe writes made outside this process.
type Watcher interface {
	// Watch blocks until ctx is done, calling fn for every externally changed key.
	Watch(ctx context.Context, fn ChangeFunc) error
}

// HealthChecker is implemented by backends with a remote dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Backend types accepted by Config.Type.
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeRedis  = "redis"
	TypeS3     = "s3"
)

// Config holds storage configuration
type Config struct {
	Type string `yaml:"type"`

	// File config
	FilePath string `yaml:"file_path"`

	// Redis config
	RedisURL        string        `yaml:"redis_url"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	RedisMaxRetries int           `yaml:"redis_max_retries"`
	RedisPoolSize   int           `yaml:"redis_pool_size"`
	RedisPrefix     string        `yaml:"redis_prefix"`
	RedisTTL        time.Duration `yaml:"redis_ttl"`

	// S3 config
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeFile,
		FilePath:        "/tmp/gatehouse/state.json",
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		RedisPrefix:     "gatehouse:",
		S3Region:        "us-east-1",
		S3Prefix:        "gatehouse/",
	}
}

// New builds the backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (KV, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeMemory:
		return NewMemoryStore(), nil
	case TypeFile, "":
		return NewFileStore(cfg.FilePath)
	case TypeRedis:
		return NewRedisStore(ctx, cfg)
	case TypeS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
