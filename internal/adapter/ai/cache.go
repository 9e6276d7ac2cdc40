package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// responseCache stores raw model responses keyed by a content hash of the
// request, with TTL expiry. Safe for concurrent use.
type responseCache struct {
	ttl time.Duration
	now func() time.Time

	mu sync.RWMutex
	m  map[string]cacheEntry
}

type cacheEntry struct {
	body     string
	cachedAt time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	return &responseCache{ttl: ttl, now: time.Now, m: make(map[string]cacheEntry)}
}

// CacheKey hashes the identifying parts of a request into a stable key.
func CacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *responseCache) get(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.cachedAt) > c.ttl {
		return "", false
	}
	return e.body, true
}

func (c *responseCache) put(key, body string) {
	c.mu.Lock()
	c.m[key] = cacheEntry{body: body, cachedAt: c.now()}
	c.mu.Unlock()
}

// clear drops every entry; expired entries are otherwise evicted lazily.
func (c *responseCache) clear() int {
	c.mu.Lock()
	n := len(c.m)
	c.m = make(map[string]cacheEntry)
	c.mu.Unlock()
	return n
}
