// Package testutil holds helpers for deterministic tests.
package testutil

import (
	"sync"
	"time"
)

// FixedClock is a settable clock for tests. It satisfies engine.Clock, so
// relative timespans such as LAST 7 DAYS resolve to a known window.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// DefaultNow is the instant a zero-argument NewFixedClock starts at.
var DefaultNow = time.Date(2021, 1, 8, 0, 0, 0, 0, time.UTC)

// NewFixedClock creates a clock stopped at now, or at DefaultNow when now
// is the zero time.
func NewFixedClock(now time.Time) *FixedClock {
	if now.IsZero() {
		now = DefaultNow
	}
	return &FixedClock{now: now.UTC()}
}

// Now returns the current instant without advancing it.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
//
// Used for test reuse, e.g. to rerun a huntflow "a day later".
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
