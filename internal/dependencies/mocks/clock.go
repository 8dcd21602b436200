package mocks

import (
	"time"

	"github.com/Cheyans/server/internal/dependencies/clock"
)

// MockClock is a mock implementation of Clock for testing.
type MockClock struct {
	current time.Time
}

// Ensure MockClock implements Clock.
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a MockClock fixed at the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	return c.current
}

// Advance moves the mocked clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

// Set fixes the mocked clock at t.
func (c *MockClock) Set(t time.Time) {
	c.current = t
}
