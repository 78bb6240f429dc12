package testutil

import "time"

// VirtualClock is a fast-forwardable clock for TTL tests.
type VirtualClock struct {
	Time time.Time
}

// NewVirtualClock returns a clock frozen at t.
func NewVirtualClock(t time.Time) *VirtualClock {
	return &VirtualClock{Time: t}
}

func (c *VirtualClock) Now() time.Time { return c.Time }

// Advance moves the clock forward by d.
func (c *VirtualClock) Advance(d time.Duration) {
	c.Time = c.Time.Add(d)
}
