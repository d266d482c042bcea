// Package system provides the wall clock used to stamp record updates.
package system

import "time"

// Clock implements company.Clock.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time truncated to the microsecond, the precision of a timestamptz column.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
