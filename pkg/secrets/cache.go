package secrets

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[T any] struct {
	value   T
	expires time.Time
}

// Cache keeps values resolved from a Provider for a fixed TTL. Concurrent
// loads of one key share a single call to the loader.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	ttl     time.Duration
	loads   singleflight.Group
	now     func() time.Time
}

func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the live value of key. An expired entry is dropped.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero T
	switch {
	case !ok:
		return zero, false
	case !c.now().Before(e.expires):
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expires.Equal(e.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// GetOrLoad returns the cached value of key, or loads and caches it. hit
// reports whether the value came from the cache. Failed loads are not cached.
func (c *Cache[T]) GetOrLoad(key string, load func() (T, error)) (value T, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	res, err, _ := c.loads.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len counts entries, expired ones included until they are swept.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartCleaner sweeps expired entries every interval until stop is closed.
func (c *Cache[T]) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[T]) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
