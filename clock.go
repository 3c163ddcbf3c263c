package kestrel

import "time"

// Clock provides the current time. Injecting a Clock lets tests drive cache
// expiry and event timestamps deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the standard Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

var _ Clock = SystemClock{}
