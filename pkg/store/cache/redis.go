package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for the Redis-backed store.
type RedisConfig struct {
	// Addr is the Redis address (host:port).
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the logical database number.
	DB int

	// KeyPrefix is prepended to every key.
	KeyPrefix string
}

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client lifecycle.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get returns the value for key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key with an optional ttl.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del removes the given keys.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists reports whether key exists.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Expire sets a ttl on an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of a key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	// Redis replies -2 for a missing key and -1 for no expiry.
	if d == -2*time.Second {
		return 0, ErrNotFound
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// IncrBy atomically adds delta to the integer at key.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	val, err := s.client.IncrBy(ctx, s.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %s: %w", key, err)
	}
	return val, nil
}

// RPush appends values to the list at key.
func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := s.client.RPush(ctx, s.key(key), args...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rpush %s: %w", key, err)
	}
	return n, nil
}

// LRange returns list elements in [start, stop].
func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, s.key(key), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return vals, nil
}

// LLen returns the length of the list at key.
func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", key, err)
	}
	return n, nil
}

// LTrim trims the list at key to [start, stop].
func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.client.LTrim(ctx, s.key(key), start, stop).Err(); err != nil {
		return fmt.Errorf("redis ltrim %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys matching a glob pattern, with the prefix stripped.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var result []string
	iter := s.client.Scan(ctx, 0, s.key(pattern), 100).Iterator()
	for iter.Next(ctx) {
		result = append(result, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return result, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
