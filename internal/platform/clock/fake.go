package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Every After call advances
// the clock by the requested duration and fires immediately, so code that
// waits observes the passage of time without blocking. Waits are recorded
// for assertions.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After advances the clock by d and returns a channel that has already fired.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d > 0 {
		c.current = c.current.Add(d)
		c.waits = append(c.waits, d)
	}
	ch := make(chan time.Time, 1)
	ch <- c.current
	return ch
}

// Advance moves the clock forward by d without recording a wait.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Waits returns a copy of every positive duration passed to After.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// TotalWait returns the sum of all recorded waits.
func (c *FakeClock) TotalWait() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, w := range c.waits {
		total += w
	}
	return total
}
