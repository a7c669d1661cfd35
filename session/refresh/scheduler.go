// Package refresh schedules proactive token refreshes. A single timer
// fires a fixed buffer before expiry, re-arms after every outcome that
// leaves the session alive, and shares an attempt ledger with the other
// refresh trigger sources so close-together triggers collapse into one
// network call.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	errs "github.com/rosterhq/portal-session/internal/errors"
)

// AttemptFunc performs one refresh attempt and returns the new expiry
// instant. Errors are classified through the taxonomy: ErrRefreshRejected
// is terminal, anything else is treated as transient.
type AttemptFunc func(ctx context.Context) (time.Time, error)

// Config holds the scheduler tuning knobs.
type Config struct {
	// Buffer is how long before expiry the refresh fires.
	Buffer time.Duration

	// MinInterval is the minimum spacing between any two attempts.
	MinInterval time.Duration

	// RetryDelay is the fixed delay after a transient failure,
	// independent of the buffer calculation.
	RetryDelay time.Duration

	// MinSchedulable guards against arming a near-immediate timer; a
	// computed delay below it means the session is too close to expiry
	// for a scheduled refresh to be worth arming.
	MinSchedulable time.Duration

	// MaxDuration caps how far out a timer may be armed. A delay beyond
	// it indicates a corrupt expiry rather than a real session.
	MaxDuration time.Duration

	// Timeout bounds each refresh network call.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = 15 * time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 30 * time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	if c.MinSchedulable <= 0 {
		c.MinSchedulable = 10 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 24 * time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Scheduler owns the single refresh timer. At most one timer is live at
// a time; arming replaces any previous timer.
type Scheduler struct {
	clock      Clock
	ledger     *Ledger
	attempt    AttemptFunc
	onTerminal func()
	cfg        Config
	log        zerolog.Logger

	lock  sync.Mutex
	timer Timer
}

// NewScheduler creates a Scheduler. onTerminal is invoked when a refresh
// is rejected outright (the session is unrecoverable and the caller must
// log out).
func NewScheduler(clock Clock, ledger *Ledger, attempt AttemptFunc, onTerminal func(), cfg Config, log zerolog.Logger) (*Scheduler, error) {
	if clock == nil {
		return nil, errors.New("[NewScheduler] clock is required")
	}
	if ledger == nil {
		return nil, errors.New("[NewScheduler] ledger is required")
	}
	if attempt == nil {
		return nil, errors.New("[NewScheduler] attempt func is required")
	}
	if onTerminal == nil {
		onTerminal = func() {}
	}

	return &Scheduler{
		clock:      clock,
		ledger:     ledger,
		attempt:    attempt,
		onTerminal: onTerminal,
		cfg:        cfg.withDefaults(),
		log:        log,
	}, nil
}

// Arm schedules a refresh for buffer-before-expiresAt, replacing any
// previously armed timer. It declines to arm when the computed delay is
// below MinSchedulable (an immediate firing storm) or above MaxDuration
// (an absurd expiry), and reports whether a timer was armed.
func (s *Scheduler) Arm(expiresAt time.Time) bool {
	delay := expiresAt.Sub(s.clock.Now()) - s.cfg.Buffer
	if delay < 0 {
		delay = 0
	}

	if delay < s.cfg.MinSchedulable || delay > s.cfg.MaxDuration {
		s.log.Debug().
			Dur("delay", delay).
			Time("expiresAt", expiresAt).
			Msg("refresh delay outside schedulable window, not arming")
		s.Cancel()
		return false
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.After(delay, s.fire)
	s.log.Debug().Dur("delay", delay).Msg("refresh armed")
	return true
}

// Cancel stops any armed timer. Called on logout; an in-flight attempt
// cannot be interrupted, but its completion is discarded by the epoch
// check inside the attempt callback.
func (s *Scheduler) Cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Ledger exposes the shared attempt ledger so other trigger sources
// (manual refresh, periodic validation) consult the same guard.
func (s *Scheduler) Ledger() *Ledger {
	return s.ledger
}

func (s *Scheduler) fire() {
	now := s.clock.Now()
	if !s.ledger.Begin(now, s.cfg.MinInterval) {
		// Another trigger refreshed moments ago. Do not reschedule from
		// here; the next cycle armed by that refresh governs.
		s.log.Debug().
			Time("lastAttempt", s.ledger.LastAttempt()).
			Msg("refresh skipped, another attempt ran within the minimum interval")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	newExpiry, err := s.attempt(ctx)
	switch {
	case err == nil:
		s.ledger.Reset()
		s.Arm(newExpiry)

	case errs.Is(err, errs.ErrRefreshRejected):
		s.log.Warn().Err(err).Msg("refresh rejected, session unrecoverable")
		s.Cancel()
		s.onTerminal()

	default:
		// Transient: keep the session and retry shortly. Losing a
		// session over a network blip is worse than a delayed retry.
		failures := s.ledger.RecordFailure()
		s.log.Warn().Err(err).Int("consecutiveFailures", failures).Msg("refresh failed, retrying")
		s.armAfter(s.cfg.RetryDelay)
	}
}

// armAfter arms the timer for a fixed delay, bypassing the window guard.
// Used only by the transient retry path.
func (s *Scheduler) armAfter(delay time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.After(delay, s.fire)
}
