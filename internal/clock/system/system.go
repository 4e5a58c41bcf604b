// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock and batch.Clock with time.Now. Readings keep their monotonic component,
// so differences between them are safe for timing; call UTC before persisting one.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current local time.
func (Clock) Now() time.Time {
	return time.Now()
}
