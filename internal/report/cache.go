package report

import (
	"sync"
	"time"
)

// Cache memoizes expensive query results (typically parsed module
// searches) for identical keys. Entries expire after TTL; once Max is
// reached the entry closest to expiry is dropped.
type Cache struct {
	ttl time.Duration
	max int

	mu    sync.Mutex
	items map[string]cacheItem
}

type cacheItem struct {
	value   any
	expires time.Time
}

// NewCache creates a cache holding up to max entries for ttl each.
func NewCache(ttl time.Duration, max int) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if max < 1 {
		max = 1
	}
	return &Cache{ttl: ttl, max: max, items: make(map[string]cacheItem)}
}

// Get returns the cached value for key if it has not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(it.expires) {
		delete(c.items, key)
		return nil, false
	}
	return it.value, true
}

// Put stores value under key, evicting as needed.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok && len(c.items) >= c.max {
		c.purge()
	}
	c.items[key] = cacheItem{value: value, expires: time.Now().Add(c.ttl)}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := time.Now()
	for _, it := range c.items {
		if now.Before(it.expires) {
			n++
		}
	}
	return n
}

// purge drops expired entries, then the soonest-to-expire entry if the
// cache is still full. Called with the lock held.
func (c *Cache) purge() {
	now := time.Now()
	for k, it := range c.items {
		if now.After(it.expires) {
			delete(c.items, k)
		}
	}
	if len(c.items) < c.max {
		return
	}
	var oldest string
	var oldestAt time.Time
	for k, it := range c.items {
		if oldest == "" || it.expires.Before(oldestAt) {
			oldest, oldestAt = k, it.expires
		}
	}
	if oldest != "" {
		delete(c.items, oldest)
	}
}
