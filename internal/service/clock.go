package service

import "time"

// Clock abstracts time so scheduling and sweeps are deterministic under
// test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
