package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSessionCachePrefix = "session"

// SessionCacheKey is prefix:userID:sha256(refreshToken).
func SessionCacheKey(prefix, userID, refreshTokenHash string) string {
	return prefix + ":" + userID + ":" + refreshTokenHash
}

type RedisSessionCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionCache(client redis.UniversalClient, prefix string) *RedisSessionCache {
	if prefix == "" {
		prefix = defaultSessionCachePrefix
	}
	return &RedisSessionCache{client: client, prefix: prefix}
}

func (c *RedisSessionCache) Set(ctx context.Context, entry SessionCacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode session cache entry: %w", err)
	}
	return c.client.Set(ctx, c.key(entry.UserID, entry.RefreshTokenHash), payload, ttl).Err()
}

func (c *RedisSessionCache) Get(ctx context.Context, userID, refreshTokenHash string) (*SessionCacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID, refreshTokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entry SessionCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode session cache entry: %w", err)
	}
	return &entry, true, nil
}

func (c *RedisSessionCache) Delete(ctx context.Context, userID, refreshTokenHash string) error {
	return c.client.Del(ctx, c.key(userID, refreshTokenHash)).Err()
}

func (c *RedisSessionCache) key(userID, refreshTokenHash string) string {
	return SessionCacheKey(c.prefix, userID, refreshTokenHash)
}
