package usecase

import (
	"container/list"
	"sync"
	"time"

	"model-router/internal/domain/entity"
	"model-router/internal/metrics"
)

const (
	DefaultCacheTTL      = time.Hour
	DefaultCacheCapacity = 1000
)

type cacheEntry struct {
	key      string
	response *entity.EnhancedGenerateResponse
	written  time.Time
	element  *list.Element
}

// CacheStats tracks cache performance.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// ResponseCache stores completed responses by fingerprint.
// Expired entries are purged on lookup; when full, the oldest insertion is evicted.
type ResponseCache struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // front = oldest insertion
	stats   CacheStats
}

func NewResponseCache(ttl time.Duration, capacity int, now func() time.Time) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		entries:  make(map[string]*cacheEntry),
		order:    list.New(),
	}
}

// Get returns a copy of the cached response.
func (c *ResponseCache) Get(key string) (*entity.EnhancedGenerateResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.now().Sub(e.written) > c.ttl {
		c.remove(e)
		c.stats.Misses++
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return nil, false
	}
	c.stats.Hits++
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.response.Clone(), true
}

func (c *ResponseCache) Set(key string, resp *entity.EnhancedGenerateResponse) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.response = resp.Clone()
		e.written = c.now()
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*cacheEntry))
		c.stats.Evictions++
	}

	e := &cacheEntry{key: key, response: resp.Clone(), written: c.now()}
	e.element = c.order.PushBack(e)
	c.entries[key] = e
}

func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

// remove must be called with c.mu held.
func (c *ResponseCache) remove(e *cacheEntry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
