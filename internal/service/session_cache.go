package service

import (
	"context"
	"sync"
	"time"
)

// SessionCacheEntry is the cached projection of a durable session row. It
// carries the refresh token hash, never the token.
type SessionCacheEntry struct {
	UserID           string    `json:"userId"`
	TenantID         string    `json:"tenantId"`
	RefreshTokenHash string    `json:"refreshTokenHash"`
	UserAgent        string    `json:"userAgent"`
	IPAddress        string    `json:"ipAddress"`
	DeviceType       string    `json:"deviceType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SessionCache is the ephemeral session store. Entries are addressed by
// user id and refresh token hash.
type SessionCache interface {
	Set(ctx context.Context, entry SessionCacheEntry, ttl time.Duration) error
	Get(ctx context.Context, userID, refreshTokenHash string) (*SessionCacheEntry, bool, error)
	Delete(ctx context.Context, userID, refreshTokenHash string) error
}

type NoopSessionCache struct{}

func NewNoopSessionCache() *NoopSessionCache { return &NoopSessionCache{} }

func (c *NoopSessionCache) Set(context.Context, SessionCacheEntry, time.Duration) error { return nil }

func (c *NoopSessionCache) Get(context.Context, string, string) (*SessionCacheEntry, bool, error) {
	return nil, false, nil
}

func (c *NoopSessionCache) Delete(context.Context, string, string) error { return nil }

type inMemorySessionItem struct {
	entry     SessionCacheEntry
	expiresAt time.Time
}

type InMemorySessionCache struct {
	mu     sync.RWMutex
	prefix string
	now    func() time.Time
	store  map[string]inMemorySessionItem
}

// NewInMemorySessionCache uses now for TTL checks; nil means time.Now.
func NewInMemorySessionCache(prefix string, now func() time.Time) *InMemorySessionCache {
	if prefix == "" {
		prefix = defaultSessionCachePrefix
	}
	if now == nil {
		now = time.Now
	}
	return &InMemorySessionCache{prefix: prefix, now: now, store: make(map[string]inMemorySessionItem)}
}

func (c *InMemorySessionCache) Set(_ context.Context, entry SessionCacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[SessionCacheKey(c.prefix, entry.UserID, entry.RefreshTokenHash)] = inMemorySessionItem{
		entry:     entry,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *InMemorySessionCache) Get(_ context.Context, userID, refreshTokenHash string) (*SessionCacheEntry, bool, error) {
	key := SessionCacheKey(c.prefix, userID, refreshTokenHash)
	c.mu.RLock()
	item, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	entry := item.entry
	return &entry, true, nil
}

func (c *InMemorySessionCache) Delete(_ context.Context, userID, refreshTokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, SessionCacheKey(c.prefix, userID, refreshTokenHash))
	return nil
}

func (c *InMemorySessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
