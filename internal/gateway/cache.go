package gateway

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/zeebo/blake3"
)

// Defaults for NewCache when a field is zero.
const (
	DefaultCacheEntries = 1000
	DefaultCacheBytes   = 16 << 20
	DefaultCacheTTL     = time.Hour
)

// CacheConfig sizes a response cache.
type CacheConfig struct {
	// MaxEntries bounds the entry count.
	MaxEntries int
	// MaxBytes bounds the summed entry sizes.
	MaxBytes int64
	// TTL expires entries. Negative disables expiry.
	TTL time.Duration
}

// CacheEntry is a stored response. Entries are replaced, never mutated.
type CacheEntry struct {
	Value      Response
	InsertedAt time.Time
	HitCount   int
	SizeBytes  int64
}

// CacheStats reports cache counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	Bytes       int64
	Entries     int
}

// Cache is an LRU response cache with TTL expiry and a byte budget.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, CacheEntry]
	cfg   CacheConfig
	bytes int64
	stats CacheStats
	now   func() time.Time
}

// NewCache creates a cache, filling zero config fields with defaults.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultCacheBytes
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultCacheTTL
	}
	c := &Cache{cfg: cfg, now: time.Now}
	// The callback fires on every removal path; it only keeps the byte count.
	lru, err := simplelru.NewLRU[string, CacheEntry](cfg.MaxEntries, func(_ string, e CacheEntry) {
		c.bytes -= e.SizeBytes
	})
	if err != nil {
		// Only returned for a non-positive size, which is ruled out above.
		panic(err)
	}
	c.lru = lru
	return c
}

// SetClock replaces the clock used for TTL checks.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the stored response. Expired entries are evicted and count as
// misses; a hit replaces the entry with an incremented HitCount.
func (c *Cache) Get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(key)
	if !ok {
		c.stats.Misses++
		return Response{}, false
	}
	if c.expired(entry) {
		c.lru.Remove(key)
		c.stats.Expirations++
		c.stats.Misses++
		return Response{}, false
	}

	next := entry
	next.HitCount++
	c.lru.Add(key, next) // existing key: moves to front, no eviction
	c.stats.Hits++
	return next.Value, true
}

// Peek returns the entry without touching recency, expiry or counters.
func (c *Cache) Peek(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Set stores value under key, evicting least-recently-used entries until it
// fits the byte budget. A value larger than the whole budget is not stored.
func (c *Cache) Set(key string, value Response) bool {
	size := entrySize(key, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.cfg.MaxBytes {
		return false
	}
	c.lru.Remove(key)
	for c.bytes+size > c.cfg.MaxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
		c.stats.Evictions++
	}
	if evicted := c.lru.Add(key, CacheEntry{
		Value:      value,
		InsertedAt: c.now(),
		SizeBytes:  size,
	}); evicted {
		c.stats.Evictions++
	}
	c.bytes += size
	return true
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Bytes = c.bytes
	s.Entries = c.lru.Len()
	return s
}

func (c *Cache) expired(e CacheEntry) bool {
	if c.cfg.TTL < 0 {
		return false
	}
	return c.now().Sub(e.InsertedAt) >= c.cfg.TTL
}

func entrySize(key string, r Response) int64 {
	return int64(len(key) + len(r.Content) + len(r.Model) + len(r.FinishReason))
}

// DeriveKey hashes the prompt, system prompt and context of a request with
// BLAKE3 over a canonical JSON encoding.
func DeriveKey(req Request) string {
	canonical := struct {
		Prompt  string    `json:"prompt"`
		System  string    `json:"system,omitempty"`
		Context []Message `json:"context,omitempty"`
	}{req.Prompt, req.System, req.Context}
	data, err := json.Marshal(canonical)
	if err != nil {
		data = []byte(req.System + "\x00" + req.Prompt)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
