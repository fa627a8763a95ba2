// Package cache provides the key-value store backing short-term memory and
// the reflection counters.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Store is the key-value interface used by the memory engines. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the given keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a ttl on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a key, zero when the key has
	// no expiry, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// IncrBy atomically adds delta to the integer at key and returns the
	// new value. A missing key counts as zero.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// RPush appends values to the list at key and returns the new length.
	RPush(ctx context.Context, key string, values ...string) (int64, error)

	// LRange returns list elements in [start, stop]. Negative indexes count
	// from the tail, -1 being the last element.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the length of the list at key. Missing keys count as empty.
	LLen(ctx context.Context, key string) (int64, error)

	// LTrim trims the list at key to [start, stop].
	LTrim(ctx context.Context, key string, start, stop int64) error

	// Keys returns the keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
