package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	list      []string
	isList    bool
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store using in-memory maps. It is intended for
// tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// get returns a live entry or nil, pruning expired ones. Caller holds mu.
func (s *MemoryStore) get(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil || e.isList {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key with an optional ttl.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Del removes the given keys.
func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Exists reports whether key exists.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key) != nil, nil
}

// Expire sets a ttl on an existing key.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return ErrNotFound
	}
	e.expiresAt = s.now().Add(ttl)
	return nil
}

// TTL returns the remaining lifetime of a key.
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// IncrBy atomically adds delta to the integer at key.
func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e := s.get(key); e != nil && !e.isList {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}

	current += delta
	e := s.get(key)
	if e == nil {
		e = &entry{}
		s.entries[key] = e
	}
	e.value = strconv.FormatInt(current, 10)
	return current, nil
}

// RPush appends values to the list at key.
func (s *MemoryStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		e = &entry{isList: true}
		s.entries[key] = e
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

// LRange returns list elements in [start, stop].
func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return nil, nil
	}

	from, to, ok := clampRange(int64(len(e.list)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, to-from+1)
	copy(out, e.list[from:to+1])
	return out, nil
}

// LLen returns the length of the list at key.
func (s *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

// LTrim trims the list at key to [start, stop].
func (s *MemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return nil
	}

	from, to, ok := clampRange(int64(len(e.list)), start, stop)
	if !ok {
		e.list = nil
		return nil
	}
	e.list = append([]string(nil), e.list[from:to+1]...)
	return nil
}

// Keys returns the keys matching a glob pattern.
func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []string
	now := s.now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			result = append(result, k)
		}
	}
	return result, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close clears the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	return nil
}

// clampRange resolves Redis-style negative indexes against a list of length n.
// Returns ok=false when the range selects nothing.
func clampRange(n, start, stop int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n || stop < 0 {
		return 0, 0, false
	}
	return start, stop, true
}
