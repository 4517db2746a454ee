// Package clock abstracts time for the trial engines so reveal delays,
// response deadlines and stimulus cadence can be driven deterministically in
// tests. Measured intervals come from time.Time arithmetic on the real clock
// (monotonic); only persisted timestamps use wall-clock epoch millis.
package clock

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
}

// Clock supplies the current instant and timer scheduling.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

type realTimer struct {
	t *time.Timer
}

func (rt *realTimer) Stop() bool { return rt.t.Stop() }

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return &realTimer{t: time.AfterFunc(d, fn)}
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return realClock{}
}
