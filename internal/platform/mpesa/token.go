package mpesa

import (
	"sync"
	"time"
)

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache holds gateway access tokens per credential pair.
// Concurrent misses may fetch twice; the later Set wins.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
	now     func() time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{
		entries: make(map[string]cachedToken),
		now:     time.Now,
	}
}

func (c *TokenCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Set stores the token for ttl; a non-positive ttl is not cached
func (c *TokenCache) Set(key, token string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedToken{value: token, expiresAt: c.now().Add(ttl)}
}

func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
