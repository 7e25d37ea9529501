package transport

import (
	"math/rand/v2"
	"time"
)

// MediaClock maps capture times onto an RTP timestamp series.
type MediaClock struct {
	rate  uint32
	base  uint32
	start time.Time
	last  uint32
}

// NewMediaClock creates a clock running at rate Hz with a random initial offset.
func NewMediaClock(rate uint32) *MediaClock {
	return NewMediaClockAt(rate, rand.Uint32())
}

// NewMediaClockAt creates a clock with a fixed initial timestamp.
func NewMediaClockAt(rate, base uint32) *MediaClock {
	return &MediaClock{rate: rate, base: base}
}

// Timestamp returns the RTP timestamp for a capture time. The first call
// anchors the clock. Timestamps never go backwards.
func (c *MediaClock) Timestamp(t time.Time) uint32 {
	if c.start.IsZero() {
		c.start = t
		c.last = c.base
		return c.base
	}
	elapsed := t.Sub(c.start)
	if elapsed < 0 {
		return c.last
	}
	// Whole seconds and remainder separately so long sessions cannot overflow.
	secs, rem := elapsed/time.Second, elapsed%time.Second
	ticks := uint64(secs)*uint64(c.rate) + uint64(rem)*uint64(c.rate)/uint64(time.Second)
	ts := c.base + uint32(ticks)
	if int32(ts-c.last) < 0 {
		return c.last
	}
	c.last = ts
	return ts
}

// Rate returns the clock rate in Hz.
func (c *MediaClock) Rate() uint32 { return c.rate }
