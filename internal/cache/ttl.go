package cache

import (
	"sync"
	"time"
)

// TTL is an in-memory map whose entries expire. Each entry may carry its own expiry.
type TTL[V any] struct {
	mu    sync.RWMutex
	items map[string]item[V]
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
}

type item[V any] struct {
	val V
	exp time.Time
}

// New returns a cache whose default expiry is ttl. A janitor goroutine drops expired
// entries every ttl/2 until Stop is called.
func New[V any](ttl time.Duration) *TTL[V] {
	c := &TTL[V]{items: make(map[string]item[V]), ttl: ttl, stop: make(chan struct{})}
	go c.cleanup()
	return c
}

func (c *TTL[V]) cleanup() {
	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-tick.C:
			c.mu.Lock()
			now := time.Now()
			for k, v := range c.items {
				if v.exp.Before(now) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Stop ends the janitor goroutine.
func (c *TTL[V]) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Get returns the value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || it.exp.Before(time.Now()) {
		var zero V
		return zero, false
	}
	return it.val, true
}

func (c *TTL[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value with the default TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.SetUntil(key, value, time.Now().Add(c.ttl))
}

// SetUntil stores value until exp (e.g. the expiry of a revoked JWT).
func (c *TTL[V]) SetUntil(key string, value V, exp time.Time) {
	c.mu.Lock()
	c.items[key] = item[V]{val: value, exp: exp}
	c.mu.Unlock()
}

func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
