package autosave

import "time"

// Timer is a pending callback that can be disarmed.
type Timer interface {
	Stop() bool
}

// Clock is the time source the scheduler arms its timers against.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
