package cache

import (
	"strings"
	"sync"
	"time"
)

// Entry represents a cached value with expiration. ServerID tags the
// entry so writes for one server can invalidate every view derived
// from it.
type Entry struct {
	Value     interface{}
	ServerID  string
	ExpiresAt time.Time
}

// Cache provides an in-memory TTL cache for aggregated statuses and
// history summaries. It is advisory: a disabled or failed cache falls
// back to direct computation and never fails a request. The enabled
// flag makes the cache-bypassed deployment mode explicit configuration
// rather than a dead branch.
type Cache struct {
	mu            sync.RWMutex
	items         map[string]Entry
	defaultTTL    time.Duration
	enabled       bool
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// New creates a cache with the given default TTL. A disabled cache
// accepts the same calls but always recomputes.
func New(defaultTTL time.Duration, enabled bool) *Cache {
	c := &Cache{
		items:       make(map[string]Entry),
		defaultTTL:  defaultTTL,
		enabled:     enabled,
		stopCleanup: make(chan struct{}),
	}

	if enabled {
		c.cleanupTicker = time.NewTicker(defaultTTL)
		go c.cleanup()
	}
	return c
}

// Enabled reports whether the cache is storing results.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// cleanup removes expired entries periodically.
func (c *Cache) cleanup() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.items {
				if now.After(entry.ExpiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCleanup:
			c.cleanupTicker.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Key builds a deterministic cache key from the operation, the server it
// derives from, and the remaining discriminators (window bounds, source
// filter). Identical inputs always map to the same key.
func Key(op, serverID string, parts ...string) string {
	elems := append([]string{op, serverID}, parts...)
	return strings.Join(elems, "|")
}

// GetOrCompute returns the cached value for key, or runs compute and
// stores its result for ttl (0 means the default TTL). Compute errors
// are returned unwrapped and nothing is cached. With the cache disabled
// every call computes.
func (c *Cache) GetOrCompute(key, serverID string, ttl time.Duration, compute func() (interface{}, error)) (interface{}, error) {
	if c.enabled {
		if v, ok := c.get(key); ok {
			return v, nil
		}
	}

	v, err := compute()
	if err != nil {
		return nil, err
	}

	if c.enabled {
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		c.set(key, serverID, v, ttl)
	}
	return v, nil
}

// InvalidateServer removes every entry derived from the given server.
func (c *Cache) InvalidateServer(serverID string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.items {
		if entry.ServerID == serverID {
			delete(c.items, key)
		}
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Entry)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Value, true
}

func (c *Cache) set(key, serverID string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Entry{
		Value:     value,
		ServerID:  serverID,
		ExpiresAt: time.Now().Add(ttl),
	}
}
