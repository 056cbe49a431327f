// Package timeutil provides the clock abstraction and day arithmetic used by
// the lesson drip. All computations are on absolute instants, so the result
// does not depend on the server time zone.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// Day is the fixed length of a drip day.
const Day = 24 * time.Hour

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a Clock that only moves when told to. Safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ElapsedDays returns the number of whole days between from and to,
// truncating toward zero at millisecond precision. Negative spans return 0.
func ElapsedDays(from, to time.Time) int {
	ms := to.Sub(from).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int(ms / Day.Milliseconds())
}

// DayBoundary returns the instant at which day n starts when counting from start.
func DayBoundary(start time.Time, n int) time.Time {
	return start.Add(time.Duration(n) * Day)
}

// FormatUntil returns a short Russian description of the time left until d elapses.
func FormatUntil(d time.Duration) string {
	switch {
	case d <= 0:
		return "сейчас"
	case d < time.Minute:
		return "меньше минуты"
	case d < time.Hour:
		return fmt.Sprintf("через %d мин", int(d.Minutes()))
	case d < Day:
		return fmt.Sprintf("через %d ч", int(d.Hours()))
	default:
		days := int(d / Day)
		if days == 1 {
			return "завтра"
		}
		return fmt.Sprintf("через %d дн", days)
	}
}
