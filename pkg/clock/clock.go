package clock

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time retrieval for deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock returns the real current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock always returns a fixed time. Useful for tests.
type FixedClock struct{ t time.Time }

func NewFixed(t time.Time) FixedClock { return FixedClock{t: t} }

func (f FixedClock) Now() time.Time { return f.t }

// MovableClock is a mutable clock for tests that need time to pass between
// assertions without real sleeps.
type MovableClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewMovable(t time.Time) *MovableClock { return &MovableClock{t: t} }

func (m *MovableClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to an absolute instant.
func (m *MovableClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

// Advance moves the clock forward by d.
func (m *MovableClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
