// Package clock provides the time source for components that make
// time-based decisions (breaker cooldowns, cache TTLs, analytics windows).
// Injecting a Clock keeps those decisions deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System returns a Clock backed by the wall clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Manual is a settable clock for tests. Time only moves when Set or
// Advance is called.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualAt returns a Manual clock pinned to t.
func NewManualAt(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
