// Package presence tracks the number of currently open connections.
package presence

import "sync/atomic"

// Counter is the global presence count. It is incremented exactly once per
// successful connection establishment and decremented exactly once per
// termination; the value is never negative.
type Counter struct {
	n atomic.Int64
}

// NewCounter creates a counter at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc increments the count and returns the new value.
func (c *Counter) Inc() int64 {
	return c.n.Add(1)
}

// Dec decrements the count and returns the new value. A decrement below
// zero indicates a double-termination bug upstream; the counter clamps to
// zero rather than going negative.
func (c *Counter) Dec() int64 {
	n := c.n.Add(-1)
	if n < 0 {
		c.n.CompareAndSwap(n, 0)
		return 0
	}
	return n
}

// Current returns the current count.
func (c *Counter) Current() int64 {
	return c.n.Load()
}
