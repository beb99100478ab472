package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var storageTracer = otel.Tracer("gatehouse/storage")

// RedisStore is a KV shared by every gatehouse replica pointing at the same Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to cfg.RedisURL and verifies the connection.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.RedisPrefix,
		ttl:    cfg.RedisTTL,
	}, nil
}

// Get implements KV.Get
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, span := r.startSpan(ctx, "Redis.Get", key)
	defer span.End()

	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis get failed")
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return v, nil
}

// Set implements KV.Set
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	ctx, span := r.startSpan(ctx, "Redis.Set", key)
	defer span.End()

	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis set failed")
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete implements KV.Delete
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, span := r.startSpan(ctx, "Redis.Delete", key)
	defer span.End()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis delete failed")
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// HealthCheck verifies Redis connectivity
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Client exposes the connection so other Redis-backed components share the pool.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return storageTracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("storage.backend", TypeRedis),
			attribute.String("storage.key", key),
		),
	)
}
