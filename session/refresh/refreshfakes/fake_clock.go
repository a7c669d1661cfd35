// Package refreshfakes provides a deterministic Clock for tests: time
// only moves when Advance is called, and due callbacks fire synchronously
// in deadline order.
package refreshfakes

import (
	"sync"
	"time"

	"github.com/rosterhq/portal-session/session/refresh"
)

var _ refresh.Clock = (*FakeClock)(nil)

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.lock.Lock()
	defer t.clock.lock.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// FakeClock implements refresh.Clock with manually advanced time.
type FakeClock struct {
	lock   sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *FakeClock) After(delay time.Duration, fn func()) refresh.Timer {
	c.lock.Lock()
	defer c.lock.Unlock()

	t := &fakeTimer{clock: c, deadline: c.now.Add(delay), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every due callback
// synchronously in deadline order. Callbacks may register new timers;
// those fire too when they fall within the advance window.
func (c *FakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	target := c.now.Add(d)
	c.lock.Unlock()

	for {
		t := c.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	c.lock.Lock()
	c.now = target
	c.lock.Unlock()
}

// popDue removes and returns the earliest live timer due at or before
// target, advancing the clock to its deadline, or nil when none is due.
func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	c.lock.Lock()
	defer c.lock.Unlock()

	var earliest *fakeTimer
	idx := -1
	for i, t := range c.timers {
		if t.stopped || t.fired || t.deadline.After(target) {
			continue
		}
		if earliest == nil || t.deadline.Before(earliest.deadline) {
			earliest = t
			idx = i
		}
	}
	if earliest == nil {
		return nil
	}

	earliest.fired = true
	c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
	if earliest.deadline.After(c.now) {
		c.now = earliest.deadline
	}
	return earliest
}

// PendingDelay returns the delay until the earliest live timer, for
// assertions about what was armed.
func (c *FakeClock) PendingDelay() (time.Duration, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var earliest *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if earliest == nil || t.deadline.Before(earliest.deadline) {
			earliest = t
		}
	}
	if earliest == nil {
		return 0, false
	}
	return earliest.deadline.Sub(c.now), true
}

// PendingCount returns the number of live timers.
func (c *FakeClock) PendingCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	count := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			count++
		}
	}
	return count
}
