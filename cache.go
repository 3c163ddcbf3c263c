package kestrel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache sizing and expiry defaults.
const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = 5 * time.Minute
)

// ResultCache memoizes read-only tool results keyed by tool name and
// canonical arguments. Entries expire after their TTL and the oldest are
// evicted under capacity pressure.
//
// Only results of read-only tools belong here; the Loop consults
// Registry.Cacheable before touching the cache, so side-effecting tools are
// executed every time.
type ResultCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, cacheEntry]
	clock   Clock
	hits    int64
	misses  int64
}

type cacheEntry struct {
	result    ToolResult
	expiresAt time.Time
	hits      int64
}

// CacheOption configures a ResultCache.
type CacheOption func(*ResultCache)

// WithCacheClock replaces the system clock, for deterministic expiry in
// tests.
func WithCacheClock(clock Clock) CacheOption {
	return func(c *ResultCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewResultCache creates a cache holding up to size entries. Size values
// below 1 fall back to DefaultCacheSize.
func NewResultCache(size int, options ...CacheOption) *ResultCache {
	if size < 1 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// lru.New only fails on size < 1, which is handled above.
		panic(err)
	}
	c := &ResultCache{entries: entries, clock: SystemClock{}}
	for _, option := range options {
		option(c)
	}
	return c
}

// CacheKey derives the canonical cache key for a call: sha256 over the tool
// name and the arguments serialized with sorted keys. Semantically identical
// calls produce identical keys regardless of the map's iteration order or
// the provider's original argument-JSON formatting.
func CacheKey(toolName string, args map[string]any) (string, error) {
	canonical, err := canonicalJSON(args)
	if err != nil {
		return "", fmt.Errorf("kestrel: canonicalize arguments for %q: %w", toolName, err)
	}
	sum := sha256.Sum256([]byte(toolName + "\x00" + canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached result for key when present and unexpired. Expired
// entries are evicted on access. The returned result has Cached set.
func (c *ResultCache) Get(key string) (*ToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.clock.Now().After(entry.expiresAt) {
		c.entries.Remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	entry.hits++
	c.entries.Add(key, entry)
	result := entry.result
	result.Cached = true
	return &result, true
}

// EntryHits returns how many times the entry for key has been served. The
// lookup does not touch recency or the expiry clock.
func (c *ResultCache) EntryHits(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Peek(key)
	if !ok {
		return 0, false
	}
	return entry.hits, true
}

// Put stores a successful result under key with the given TTL. Zero or
// negative TTL means DefaultCacheTTL. Failed results are never stored:
// a transient tool failure should not be replayed for the TTL window.
func (c *ResultCache) Put(key string, result *ToolResult, ttl time.Duration) {
	if result == nil || !result.Success {
		return
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, cacheEntry{
		result:    *result,
		expiresAt: c.clock.Now().Add(ttl),
	})
}

// Invalidate removes the entry for key, if present.
func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Clear empties the cache and resets the counters.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.hits, c.misses = 0, 0
}

// Stats returns the hit and miss counters.
func (c *ResultCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of stored entries, expired ones included.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// canonicalJSON serializes v with object keys sorted at every level.
func canonicalJSON(v any) (string, error) {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return "", err
			}
			encodedValue, err := canonicalJSON(value[k])
			if err != nil {
				return "", err
			}
			out += string(encodedKey) + ":" + encodedValue
		}
		return out + "}", nil
	case []any:
		out := "["
		for i, item := range value {
			if i > 0 {
				out += ","
			}
			encoded, err := canonicalJSON(item)
			if err != nil {
				return "", err
			}
			out += encoded
		}
		return out + "]", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}
