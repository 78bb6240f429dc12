package filter

import "time"

// Clock supplies the current instant. TTL evaluation depends on it being
// injected so tests can fast-forward time deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
