package security

import "sync/atomic"

// Counter keeps one monotonically increasing counter per EventType.
// Increments are lock-free; the zero value is ready to use.
type Counter struct {
	counts [eventTypeCount]atomic.Int64
}

func NewCounter() *Counter {
	return &Counter{}
}

// Increment adds one to the counter for e and returns the new value.
func (c *Counter) Increment(e EventType) int64 {
	if c == nil || !e.valid() {
		return 0
	}
	return c.counts[e].Add(1)
}

func (c *Counter) Count(e EventType) int64 {
	if c == nil || !e.valid() {
		return 0
	}
	return c.counts[e].Load()
}

// Snapshot returns the non-zero counters. Individual values are read
// atomically but the map as a whole is not a consistent cut.
func (c *Counter) Snapshot() map[EventType]int64 {
	out := make(map[EventType]int64)
	if c == nil {
		return out
	}
	for e := EventType(0); e < eventTypeCount; e++ {
		if v := c.counts[e].Load(); v > 0 {
			out[e] = v
		}
	}
	return out
}

// Reset zeroes a single counter. Administrative and test use only.
func (c *Counter) Reset(e EventType) {
	if c == nil || !e.valid() {
		return
	}
	c.counts[e].Store(0)
}

// ResetAll zeroes every counter. Administrative and test use only.
func (c *Counter) ResetAll() {
	if c == nil {
		return
	}
	for e := EventType(0); e < eventTypeCount; e++ {
		c.counts[e].Store(0)
	}
}
