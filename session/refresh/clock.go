package refresh

import "time"

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the callback was
	// still pending.
	Stop() bool
}

// Clock abstracts wall-clock reads and delayed callbacks so tests can
// simulate time passage deterministically instead of sleeping.
type Clock interface {
	Now() time.Time
	After(delay time.Duration, fn func()) Timer
}

// SystemClock is the production Clock over the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) After(delay time.Duration, fn func()) Timer {
	return systemTimer{timer: time.AfterFunc(delay, fn)}
}

type systemTimer struct {
	timer *time.Timer
}

func (t systemTimer) Stop() bool {
	return t.timer.Stop()
}
