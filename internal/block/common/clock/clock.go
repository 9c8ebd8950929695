package clock

import "time"

// Clock supplies timestamps for journal entries.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock returns CurrentTime until advanced.
type MockClock struct {
	CurrentTime time.Time
}

// Now returns CurrentTime.
func (c *MockClock) Now() time.Time {
	return c.CurrentTime
}

// Advance moves CurrentTime forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.CurrentTime = c.CurrentTime.Add(d)
}
