package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces this store's records within a shared Redis.
	KeyPrefix string
	// RecordTTL expires persisted records; zero keeps them indefinitely.
	RecordTTL time.Duration
}

// RedisStore persists records as JSON values in Redis.
type RedisStore[T any] struct {
	client    *redis.Client
	logger    zerolog.Logger
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates and connects a RedisStore. It pings the server to
// ensure connectivity before returning.
func NewRedisStore[T any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore[T], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore[T]{
		client:    rdb,
		logger:    logger.With().Str("component", "RedisStore").Logger(),
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.RecordTTL,
	}, nil
}

// Save writes the record as JSON with the configured TTL.
func (s *RedisStore[T]) Save(ctx context.Context, key string, record Record[T]) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal record.")
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := s.client.Set(ctx, s.keyPrefix+key, encoded, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set record in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("Record stored in Redis.")
	return nil
}

// Load reads the record for key. A redis.Nil miss maps to ErrNotFound.
func (s *RedisStore[T]) Load(ctx context.Context, key string) (Record[T], error) {
	var zero Record[T]

	encoded, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during load.")
		return zero, fmt.Errorf("failed to get from redis: %w", err)
	}

	var record Record[T]
	if err := json.Unmarshal([]byte(encoded), &record); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal record.")
		return zero, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("Redis record hit.")
	return record, nil
}

// Delete removes the record for key.
func (s *RedisStore[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore[T]) Close() error {
	return s.client.Close()
}
