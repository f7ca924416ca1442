// Package clock abstracts the source of time so that algorithm behavior can
// be tested deterministically without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system time.
type Real struct{}

// New returns the production Clock, which wraps time.Now.
func New() Clock {
	return &Real{}
}

func (r *Real) Now() time.Time {
	return time.Now()
}

// Mock is a Clock with controllable time for testing.
//
//	clk := clock.NewMockAt(time.Unix(1_700_000_000, 0))
//	// ... exercise the limiter ...
//	clk.Advance(2 * time.Second)
type Mock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMock creates a mock clock starting at the current system time.
func NewMock() *Mock {
	return &Mock{now: time.Now()}
}

// NewMockAt creates a mock clock starting at t.
func NewMockAt(t time.Time) *Mock {
	return &Mock{now: t}
}

func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the mock clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the mock clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
