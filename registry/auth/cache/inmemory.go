package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// InMemory is a process-local Cache. Expired entries are dropped lazily on read and whenever the
// map grows past a threshold, entries never pile up unbounded.
type InMemory struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		m:   make(map[string]entry),
		now: time.Now,
	}
}

func (c *InMemory) Get(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.m, key)
		return "", false
	}
	return e.value, true
}

func (c *InMemory) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.m) >= 4096 {
		c.evictExpired()
	}
	c.m[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *InMemory) evictExpired() {
	now := c.now()
	for k, e := range c.m {
		if now.After(e.expiresAt) {
			delete(c.m, k)
		}
	}
}
