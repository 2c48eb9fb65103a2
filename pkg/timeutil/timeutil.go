// Package timeutil holds the clock used by the orchestrator and the
// timestamp formats written to the session record.
package timeutil

import (
	"sync"
	"time"
)

// Clock returns the current time. Session timestamps always go through a
// Clock so tests can pin them.
type Clock interface {
	Now() time.Time
}

// SystemClock reports wall time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a manually driven clock.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a clock stopped at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

// ISO8601 is the layout of lastUpdated in session documents.
const ISO8601 = "2006-01-02T15:04:05.000Z07:00"

// FormatISO renders t in UTC with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// ParseISO accepts the ISO8601 layout as well as plain RFC3339(Nano).
func ParseISO(s string) (time.Time, error) {
	if t, err := time.Parse(ISO8601, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// UnixMilli converts t for columns stored as integers. Zero time maps to 0.
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMilli is the inverse of UnixMilli.
func FromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Later returns the later of a and b. Session timestamps never move backwards.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
