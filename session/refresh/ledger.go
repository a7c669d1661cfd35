package refresh

import (
	"sync"
	"time"
)

// Ledger tracks refresh attempts across every trigger source: the armed
// timer, the periodic validator, page-load checks, and manual refreshes.
// Its minimum-interval guard is the sole defense against duplicate
// concurrent refresh calls, so Begin both checks and stamps under one
// lock acquisition.
type Ledger struct {
	lock        sync.Mutex
	lastAttempt time.Time
	failures    int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Begin records an attempt starting at now and reports whether it may
// proceed. It returns false when the previous attempt was less than
// minInterval ago; in that case nothing is stamped and the caller must
// skip the attempt entirely.
func (l *Ledger) Begin(now time.Time, minInterval time.Duration) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	if !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < minInterval {
		return false
	}
	l.lastAttempt = now
	return true
}

// Reset clears the ledger. Called on successful refresh and on explicit
// manual refresh requests, which bypass the interval guard by design.
func (l *Ledger) Reset() {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.lastAttempt = time.Time{}
	l.failures = 0
}

// RecordFailure increments and returns the consecutive failure count. It
// also clears the attempt stamp: only a completed refresh counts against
// the minimum interval, so the scheduled retry is never throttled by the
// attempt that just failed.
func (l *Ledger) RecordFailure() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.failures++
	l.lastAttempt = time.Time{}
	return l.failures
}

// Failures returns the consecutive failure count.
func (l *Ledger) Failures() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.failures
}

// LastAttempt returns the start time of the most recent attempt.
func (l *Ledger) LastAttempt() time.Time {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.lastAttempt
}
