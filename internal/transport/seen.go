package transport

import (
	"sync"
	"time"
)

const defaultSeenExpiry = 60 * time.Second

// seenCache is a time-bounded deduplication store for frame identifiers.
// Relayed frames loop through the mesh; the first arrival wins and every
// repeat is dropped silently. Entries expire so memory stays bounded: a
// frame only needs to be remembered as long as it could still be in transit.
type seenCache struct {
	mu      sync.Mutex
	entries map[[32]byte]time.Time
	expiry  time.Duration
	stop    chan struct{}
}

func newSeenCache(expiry time.Duration) *seenCache {
	if expiry <= 0 {
		expiry = defaultSeenExpiry
	}
	c := &seenCache{
		entries: make(map[[32]byte]time.Time),
		expiry:  expiry,
		stop:    make(chan struct{}),
	}
	go c.reap()
	return c
}

// add records id and reports whether it was new.
func (c *seenCache) add(id [32]byte) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.entries[id]; ok && now.Before(exp) {
		return false
	}
	c.entries[id] = now.Add(c.expiry)
	return true
}

func (c *seenCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *seenCache) close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *seenCache) reap() {
	ticker := time.NewTicker(c.expiry / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, exp := range c.entries {
				if now.After(exp) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
