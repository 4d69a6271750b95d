package testutil

import (
	"sync"
	"time"
)

// ManualClock is a heartbeat clock whose ticks are fired explicitly with
// Advance.
type ManualClock struct {
	mu       sync.Mutex
	ch       chan time.Time
	now      time.Time
	interval time.Duration
	stopped  int
}

// NewManualClock returns a ManualClock starting at the Unix epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{ch: make(chan time.Time, 16), now: time.Unix(0, 0)}
}

// Tick returns the clock's shared tick channel.
func (c *ManualClock) Tick(d time.Duration) (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
	return c.ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.stopped++
	}
}

// Advance moves the clock forward one interval and delivers a tick.
func (c *ManualClock) Advance() {
	c.mu.Lock()
	c.now = c.now.Add(c.interval)
	now := c.now
	c.mu.Unlock()
	c.ch <- now
}

// Stops returns how many times the ticker was released.
func (c *ManualClock) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
