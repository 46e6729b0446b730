package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemorySessionCache keeps token lookups in-process (single instance only).
type MemorySessionCache struct {
	mu      sync.Mutex
	entries map[string]cachedSession
}

type cachedSession struct {
	userID int64
	expiry time.Time
}

// NewMemorySessionCache builds an in-memory session cache.
func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{
		entries: make(map[string]cachedSession),
	}
}

// Put caches token -> userID until ttl elapses.
func (c *MemorySessionCache) Put(token string, userID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[token] = cachedSession{userID: userID, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Get returns the cached user ID for token.
func (c *MemorySessionCache) Get(token string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[token]
	if !ok {
		return 0, false, nil
	}
	if time.Now().After(entry.expiry) {
		delete(c.entries, token)
		return 0, false, nil
	}
	return entry.userID, true, nil
}

// Delete drops a cached token.
func (c *MemorySessionCache) Delete(token string) error {
	c.mu.Lock()
	delete(c.entries, token)
	c.mu.Unlock()
	return nil
}

// RedisSessionCache keeps token lookups in Redis with TTL.
type RedisSessionCache struct {
	client *redis.Client
}

// NewRedisSessionCache builds a Redis-backed session cache.
func NewRedisSessionCache(addr, password string) *RedisSessionCache {
	return &RedisSessionCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Put writes a token -> userID mapping with TTL.
func (c *RedisSessionCache) Put(token string, userID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return c.client.Set(ctx, sessionCacheKey(token), strconv.FormatInt(userID, 10), ttl).Err()
}

// Get resolves token to a cached user ID.
func (c *RedisSessionCache) Get(token string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := c.client.Get(ctx, sessionCacheKey(token)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// unreadable entry: treat as a miss and let the caller hit the DB
		_ = c.client.Del(ctx, sessionCacheKey(token)).Err()
		return 0, false, nil
	}
	return userID, true, nil
}

// Delete removes a token mapping.
func (c *RedisSessionCache) Delete(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, sessionCacheKey(token)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *RedisSessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func sessionCacheKey(token string) string {
	return "session:" + tokenDigest(token)
}

func (c *RedisSessionCache) Close() error {
	return c.client.Close()
}
