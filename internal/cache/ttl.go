package cache

import (
	"sync"
	"time"
)

// TTL is an in-memory cache of encoded responses ([]byte, usually JSON).
// Entries expire after the configured duration; a janitor goroutine evicts
// them until Stop is called.
type TTL struct {
	mu    sync.RWMutex
	items map[string]item
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

type item struct {
	data []byte
	exp  time.Time
}

func New(ttl time.Duration) *TTL {
	c := &TTL{items: make(map[string]item), ttl: ttl, now: time.Now, done: make(chan struct{})}
	go c.janitor()
	return c
}

func (c *TTL) janitor() {
	tick := time.NewTicker(max(c.ttl/2, time.Second))
	defer tick.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-tick.C:
			c.evictExpired()
		}
	}
}

func (c *TTL) evictExpired() {
	c.mu.Lock()
	now := c.now()
	for k, v := range c.items {
		if !v.exp.After(now) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Stop ends the janitor. Safe to call more than once.
func (c *TTL) Stop() { c.once.Do(func() { close(c.done) }) }

// Get returns the value for key, or nil when absent or expired.
func (c *TTL) Get(key string) []byte {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !it.exp.After(c.now()) {
		return nil
	}
	return it.data
}

func (c *TTL) Set(key string, value []byte) {
	exp := c.now().Add(c.ttl)
	c.mu.Lock()
	c.items[key] = item{data: value, exp: exp}
	c.mu.Unlock()
}

func (c *TTL) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// PaymentKey is the key of the cached GET payment response.
func PaymentKey(clinicID, appointmentID string) string {
	return "payment:" + clinicID + ":" + appointmentID
}
