// Package cache provides a small byte-oriented cache with Redis and
// in-process implementations. The admin config read path uses it so every
// draw does not hit the database.
//
// WHICH ONE RUNS?
//
//	REDIS_ADDR set    → RedisCache: every instance shares one entry, so a
//	                    config save on one instance is seen by all of them
//	                    after the key is deleted
//	REDIS_ADDR empty  → MemoryCache: one entry per process, fine for the
//	                    usual single-instance deployment
//
// WHY BYTES?
// The interface stores []byte and GetJSON/SetJSON do the encoding. Redis
// stores strings anyway, and keeping the interface free of any type makes a
// fake in a test three short methods.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get on a miss or an expired entry.
//
// SENTINEL ERRORS:
// A package-level error value callers compare with errors.Is. It lets the
// admin service tell "not cached yet" (normal, stay quiet) from "Redis is
// down" (log a warning) without parsing strings.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the store-agnostic interface. A miss is ErrNotFound; any other
// error means the backend failed and callers fall back to the source.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisCache stores entries in a Redis database. Several server processes
// pointed at the same Redis share one cached config, so a save on one
// invalidates it for all.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures NewRedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "fortune-club:".
	Prefix      string
	DialTimeout time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	// NewClient only builds a pool; no connection is made until the first
	// command. Ping below forces one so a bad address fails at startup.
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connecting to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisCache{client: client, prefix: cfg.Prefix}, nil
}

// Get maps redis.Nil, Redis's "no such key" reply, to ErrNotFound.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value with a server-side TTL; 0 means no expiry.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a key that does not exist is not an error.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool. Only the server shutdown path calls
// it.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// MemoryCache is a process-local Cache. Expired entries are dropped on read.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// memoryEntry holds a private copy of the bytes and the absolute expiry.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryCache is what the server uses when no Redis address is set.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]memoryEntry), now: time.Now}
}

// Get returns a copy so callers cannot mutate the stored bytes.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	// LAZY EXPIRY: an entry dies at exactly expiresAt, and the first read
	// after that removes it. No janitor goroutine is needed for one key.
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.data, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set copies value, so the caller may reuse its buffer.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

// Delete never fails.
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// GetJSON decodes a cached JSON value into dest. dest must be a pointer,
// as with json.Unmarshal. A corrupt entry is an error, not a miss.
func GetJSON(ctx context.Context, c Cache, key string, dest any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decoding %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value as JSON and stores it.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
