package mpesa

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	cache := NewTokenCache()
	cache.now = func() time.Time { return now }

	_, ok := cache.Get("k")
	assert.False(t, ok)

	cache.Set("k", "token-1", time.Minute)
	token, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "token-1", token)

	now = now.Add(time.Minute)
	_, ok = cache.Get("k")
	assert.False(t, ok, "token must expire at its ttl")

	cache.Set("k", "token-2", 0)
	_, ok = cache.Get("k")
	assert.False(t, ok, "non-positive ttl is not cached")

	cache.Set("k", "token-3", time.Hour)
	cache.Invalidate("k")
	_, ok = cache.Get("k")
	assert.False(t, ok)
}

func TestTokenCache_Concurrent(t *testing.T) {
	cache := NewTokenCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Set("k", "token", time.Minute)
			cache.Get("k")
		}()
	}
	wg.Wait()

	token, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "token", token)
}
