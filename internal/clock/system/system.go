// Package system provides the wall clock.
package system

import "time"

// Clock reads the wall clock in UTC. Plan quotas reset at the UTC month
// boundary and alert dedup windows compare stored UTC timestamps.
type Clock struct{}

// New returns a Clock.
func New() *Clock { return &Clock{} }

// Now returns the current UTC time.
func (Clock) Now() time.Time { return time.Now().UTC() }
