// Package ratelimit provides per-connection cooldown tracking for partner
// requests. The check is fully synchronous and in-memory so it can run
// inside the coordinator's reserved section without a suspension point.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum interval between successive partner
// requests from one connection.
const DefaultCooldown = 2000 * time.Millisecond

// Cooldown tracks the last approved request timestamp per connection.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewCooldown creates a limiter with the given window. A non-positive
// window falls back to DefaultCooldown.
func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// TryAcquire reports whether a request at time now is allowed for the
// connection. On approval the timestamp is updated immediately, so two
// rapid-fire requests from the same connection cannot both pass. On denial
// no state changes.
func (c *Cooldown) TryAcquire(connID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[connID]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[connID] = now
	return true
}

// Forget drops the connection's state. Called on disconnect so the map does
// not grow with dead connections.
func (c *Cooldown) Forget(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, connID)
}
