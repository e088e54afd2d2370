package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Clock is the time source used by the scheduler. Tests replace it
// with a Mock to drive timeouts deterministically.
type Clock = bclock.Clock

// Mock is a Clock whose time only moves when told to.
type Mock = bclock.Mock

// Ticker is the ticker type produced by a Clock.
type Ticker = bclock.Ticker

// New returns a Clock backed by the system time.
func New() Clock {
	return bclock.New()
}

// NewMock returns a mocked Clock set to the Unix epoch.
func NewMock() *Mock {
	return bclock.NewMock()
}

// MillisSince returns the milliseconds elapsed since t, never negative.
func MillisSince(c Clock, t time.Time) int64 {
	d := c.Since(t)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
