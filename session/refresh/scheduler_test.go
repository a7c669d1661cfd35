package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/rosterhq/portal-session/internal/errors"
	"github.com/rosterhq/portal-session/session/refresh"
	"github.com/rosterhq/portal-session/session/refresh/refreshfakes"
)

var start = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

// fakeAttempt records refresh attempts and replays scripted outcomes.
type fakeAttempt struct {
	lock     sync.Mutex
	calls    int
	outcomes []func() (time.Time, error)
}

func (f *fakeAttempt) attempt(ctx context.Context) (time.Time, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.calls++
	if len(f.outcomes) == 0 {
		return time.Time{}, errs.ErrRefreshTransient
	}
	next := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return next()
}

func (f *fakeAttempt) callCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

func succeedUntil(expiry time.Time) func() (time.Time, error) {
	return func() (time.Time, error) { return expiry, nil }
}

func fail(err error) func() (time.Time, error) {
	return func() (time.Time, error) { return time.Time{}, err }
}

type schedFixture struct {
	clock    *refreshfakes.FakeClock
	attempt  *fakeAttempt
	sched    *refresh.Scheduler
	terminal *int
}

func setupScheduler(t *testing.T, cfg refresh.Config, outcomes ...func() (time.Time, error)) *schedFixture {
	t.Helper()

	clock := refreshfakes.NewFakeClock(start)
	attempt := &fakeAttempt{outcomes: outcomes}
	terminal := 0

	sched, err := refresh.NewScheduler(
		clock,
		refresh.NewLedger(),
		attempt.attempt,
		func() { terminal++ },
		cfg,
		zerolog.Nop(),
	)
	require.NoError(t, err)

	return &schedFixture{clock: clock, attempt: attempt, sched: sched, terminal: &terminal}
}

func TestArm_SchedulesBufferBeforeExpiry(t *testing.T) {
	f := setupScheduler(t, refresh.Config{Buffer: 15 * time.Minute})

	armed := f.sched.Arm(start.Add(20 * time.Minute))
	require.True(t, armed)

	delay, ok := f.clock.PendingDelay()
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, delay)
}

func TestArm_DeclinesDelayBelowMinimum(t *testing.T) {
	f := setupScheduler(t, refresh.Config{Buffer: 15 * time.Minute, MinSchedulable: 10 * time.Second})

	// Expiry only one second past the buffer.
	armed := f.sched.Arm(start.Add(15*time.Minute + time.Second))
	assert.False(t, armed)
	assert.Zero(t, f.clock.PendingCount())
}

func TestArm_DeclinesAbsurdlyDistantExpiry(t *testing.T) {
	f := setupScheduler(t, refresh.Config{Buffer: 15 * time.Minute, MaxDuration: 24 * time.Hour})

	armed := f.sched.Arm(start.Add(30 * 24 * time.Hour))
	assert.False(t, armed)
	assert.Zero(t, f.clock.PendingCount())
}

func TestArm_ReplacesPreviousTimer(t *testing.T) {
	f := setupScheduler(t, refresh.Config{Buffer: 15 * time.Minute})

	require.True(t, f.sched.Arm(start.Add(time.Hour)))
	require.True(t, f.sched.Arm(start.Add(2*time.Hour)))

	assert.Equal(t, 1, f.clock.PendingCount(), "only one timer may be live")
	delay, _ := f.clock.PendingDelay()
	assert.Equal(t, 2*time.Hour-15*time.Minute, delay)
}

func TestFire_RefreshesAndReArms(t *testing.T) {
	f := setupScheduler(t,
		refresh.Config{Buffer: 15 * time.Minute, MinInterval: 30 * time.Minute},
		succeedUntil(start.Add(2*time.Hour)),
	)

	require.True(t, f.sched.Arm(start.Add(time.Hour)))
	f.clock.Advance(45 * time.Minute)

	assert.Equal(t, 1, f.attempt.callCount())
	assert.Equal(t, 1, f.clock.PendingCount(), "re-armed for the new expiry")

	delay, _ := f.clock.PendingDelay()
	assert.Equal(t, time.Hour, delay, "new expiry minus buffer from fire time")
}

func TestFire_MinIntervalSkipsDuplicateTrigger(t *testing.T) {
	f := setupScheduler(t,
		refresh.Config{Buffer: 15 * time.Minute, MinInterval: 30 * time.Minute},
		succeedUntil(start.Add(2*time.Hour)),
	)

	// An independent trigger (periodic validator) refreshed 2 minutes
	// before the timer fires.
	require.True(t, f.sched.Arm(start.Add(time.Hour)))
	f.clock.Advance(43 * time.Minute)
	require.True(t, f.sched.Ledger().Begin(f.clock.Now(), 30*time.Minute))

	f.clock.Advance(2 * time.Minute)

	assert.Equal(t, 0, f.attempt.callCount(), "timer firing inside the interval must not call the network")
	assert.Zero(t, f.clock.PendingCount(), "the skip path does not reschedule")
}

func TestFire_RejectedRefreshIsTerminal(t *testing.T) {
	f := setupScheduler(t,
		refresh.Config{Buffer: 15 * time.Minute},
		fail(errs.Wrapf(errs.ErrRefreshRejected, "refresh")),
	)

	require.True(t, f.sched.Arm(start.Add(time.Hour)))
	f.clock.Advance(time.Hour)

	assert.Equal(t, 1, *f.terminal)
	assert.Zero(t, f.clock.PendingCount(), "no retry after a terminal rejection")
}

func TestFire_TransientFailureRetriesAndCounts(t *testing.T) {
	f := setupScheduler(t,
		refresh.Config{Buffer: 15 * time.Minute, MinInterval: 30 * time.Minute, RetryDelay: time.Minute},
		fail(errs.Wrapf(errs.ErrRefreshTransient, "timeout")),
	)

	require.True(t, f.sched.Arm(start.Add(time.Hour)))
	f.clock.Advance(45 * time.Minute)

	assert.Equal(t, 1, f.attempt.callCount())
	assert.Equal(t, 1, f.sched.Ledger().Failures())
	assert.Zero(t, *f.terminal, "transient failures never terminate the session")

	delay, ok := f.clock.PendingDelay()
	require.True(t, ok, "retry must be armed")
	assert.Equal(t, time.Minute, delay)
}

func TestFire_RetryAfterTransientEventuallySucceeds(t *testing.T) {
	f := setupScheduler(t,
		refresh.Config{Buffer: 15 * time.Minute, MinInterval: 30 * time.Minute, RetryDelay: time.Minute},
		fail(errs.Wrapf(errs.ErrRefreshTransient, "timeout")),
		succeedUntil(start.Add(3*time.Hour)),
	)

	require.True(t, f.sched.Arm(start.Add(time.Hour)))
	f.clock.Advance(45 * time.Minute)
	require.Equal(t, 1, f.sched.Ledger().Failures())

	f.clock.Advance(time.Minute)

	assert.Equal(t, 2, f.attempt.callCount())
	assert.Zero(t, f.sched.Ledger().Failures(), "success resets the failure counter")
	assert.Equal(t, 1, f.clock.PendingCount(), "re-armed for the refreshed expiry")
}

func TestCancel_StopsArmedTimer(t *testing.T) {
	f := setupScheduler(t, refresh.Config{Buffer: 15 * time.Minute}, succeedUntil(start.Add(2*time.Hour)))

	require.True(t, f.sched.Arm(start.Add(time.Hour)))
	f.sched.Cancel()
	f.clock.Advance(2 * time.Hour)

	assert.Zero(t, f.attempt.callCount())
}

func TestLedger_BeginChecksAndStamps(t *testing.T) {
	ledger := refresh.NewLedger()

	require.True(t, ledger.Begin(start, 30*time.Minute))
	assert.False(t, ledger.Begin(start.Add(2*time.Minute), 30*time.Minute))
	assert.Equal(t, start, ledger.LastAttempt(), "a skipped attempt must not stamp the ledger")
	assert.True(t, ledger.Begin(start.Add(31*time.Minute), 30*time.Minute))
}

func TestLedger_FailureClearsAttemptStamp(t *testing.T) {
	ledger := refresh.NewLedger()

	require.True(t, ledger.Begin(start, 30*time.Minute))
	ledger.RecordFailure()

	assert.True(t, ledger.Begin(start.Add(time.Minute), 30*time.Minute),
		"a failed attempt must not throttle its own retry")
	assert.Equal(t, 1, ledger.Failures())
}

func TestLedger_ResetAllowsImmediateAttempt(t *testing.T) {
	ledger := refresh.NewLedger()

	require.True(t, ledger.Begin(start, 30*time.Minute))
	ledger.Reset()
	assert.True(t, ledger.Begin(start.Add(time.Second), 30*time.Minute))
}
