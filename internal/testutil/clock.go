package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a fresh DeterministicClock.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe, monotonically stepping wall
// clock for tests. Each Now() call advances by one second, so stored
// timestamps are strictly increasing and reproducible.
//
// Implements dashboard.Clock.
type DeterministicClock struct {
	mu    sync.Mutex
	ticks int64
}

// NewDeterministicClock creates a clock whose first Now() returns Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Now returns the current instant and advances the clock by one second.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.ticks) * time.Second)
	c.ticks++
	return t
}

// Current returns the instant the next Now() call will return, without
// advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Epoch.Add(time.Duration(c.ticks) * time.Second)
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
