// Package counter provides a goroutine-safe 64 bit counter, used for the
// router's per-port and per-route-miss drop counters.
package counter

import (
	"fmt"
	"sync/atomic"
)

// Counter is a 64 bit counter safe for concurrent increment and read.
type Counter struct {
	count atomic.Uint64
}

// New creates a new 64 bit counter.
func New() *Counter {
	return new(Counter)
}

// Reset zeroes the counter.
func (c *Counter) Reset() {
	c.count.Store(0)
}

// Increment adds one to the counter.
func (c *Counter) Increment() {
	c.count.Add(1)
}

// Value returns the counter's current value.
func (c *Counter) Value() uint64 {
	return c.count.Load()
}

// String implements fmt.Stringer.
func (c *Counter) String() string {
	return fmt.Sprintf("%d", c.Value())
}
