// Package portal wires the session subsystem together and exposes the
// surface the portal screens call. Exactly one Manager is constructed at
// application start and shared by injection; screens never talk to the
// auth endpoints directly.
package portal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rosterhq/portal-session/authclient"
	errs "github.com/rosterhq/portal-session/internal/errors"
	"github.com/rosterhq/portal-session/roles"
	"github.com/rosterhq/portal-session/session"
	"github.com/rosterhq/portal-session/session/bus"
	"github.com/rosterhq/portal-session/session/refresh"
	"github.com/rosterhq/portal-session/token"
)

// API is the auth service contract the manager consumes. authclient.Client
// is the production implementation; tests substitute a fake.
type API interface {
	MagicLink(ctx context.Context, email, role string) error
	Verify(ctx context.Context, oneTimeToken, email, clientSessionID string) (*authclient.VerifyResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*authclient.RefreshResponse, error)
	Health(ctx context.Context, authorizationHeader string) error
	RestoreSession(ctx context.Context, sessionID string) (*authclient.RestoreResponse, error)
	Logout(ctx context.Context, sessionID string) error
}

var _ API = (*authclient.Client)(nil)

// Deps holds the manager's collaborators.
type Deps struct {
	Store *session.Store
	Roles *roles.Resolver
	API   API
	Bus   *bus.Bus
	Clock refresh.Clock
	Log   zerolog.Logger
}

// Config holds the manager's policy knobs.
type Config struct {
	// Authorize is the variant's email predicate, applied before a
	// magic link is ever requested and again on restored sessions.
	Authorize func(email string) bool

	// LoginRole is sent with magic-link requests ("admin" or "coach").
	LoginRole string

	// UserAgent is recorded on the session record.
	UserAgent string

	MaxTokenDuration   time.Duration
	RefreshBuffer      time.Duration
	MinRefreshInterval time.Duration
	RetryDelay         time.Duration
	RevalidateInterval time.Duration
	Timeout            time.Duration
}

func (c Config) withDefaults() Config {
	if c.Authorize == nil {
		c.Authorize = func(string) bool { return true }
	}
	if c.MaxTokenDuration <= 0 {
		c.MaxTokenDuration = 24 * time.Hour
	}
	if c.RefreshBuffer <= 0 {
		c.RefreshBuffer = 15 * time.Minute
	}
	if c.MinRefreshInterval <= 0 {
		c.MinRefreshInterval = 30 * time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	if c.RevalidateInterval <= 0 {
		c.RevalidateInterval = 10 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Manager is the session lifecycle manager.
type Manager struct {
	store *session.Store
	roles *roles.Resolver
	api   API
	bus   *bus.Bus
	clock refresh.Clock
	sched *refresh.Scheduler
	cfg   Config
	log   zerolog.Logger

	noRefreshWarn sync.Once

	lock       sync.Mutex
	revalTimer refresh.Timer
	closed     bool
}

// New creates a Manager. All Deps fields except Clock are required;
// Clock defaults to the system clock.
func New(deps Deps, cfg Config) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("[New] session store is required")
	}
	if deps.Roles == nil {
		return nil, errors.New("[New] role resolver is required")
	}
	if deps.API == nil {
		return nil, errors.New("[New] auth API is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("[New] event bus is required")
	}
	if deps.Clock == nil {
		deps.Clock = refresh.SystemClock{}
	}

	cfg = cfg.withDefaults()

	m := &Manager{
		store: deps.Store,
		roles: deps.Roles,
		api:   deps.API,
		bus:   deps.Bus,
		clock: deps.Clock,
		cfg:   cfg,
		log:   deps.Log,
	}

	sched, err := refresh.NewScheduler(
		deps.Clock,
		refresh.NewLedger(),
		m.scheduledAttempt,
		m.onRefreshRejected,
		refresh.Config{
			Buffer:      cfg.RefreshBuffer,
			MinInterval: cfg.MinRefreshInterval,
			RetryDelay:  cfg.RetryDelay,
			MaxDuration: cfg.MaxTokenDuration,
			Timeout:     cfg.Timeout,
		},
		deps.Log,
	)
	if err != nil {
		return nil, err
	}
	m.sched = sched

	return m, nil
}

// Start performs the cold-start validation sequence and begins periodic
// revalidation. It never returns an error for "not authenticated" — that
// is a normal outcome reported through the bus and IsAuthenticated.
func (m *Manager) Start(ctx context.Context) {
	record, ok := m.store.Load()
	if ok {
		// Lightweight liveness probe. Only a definite rejection clears
		// the session; a network blip must not log anyone out.
		if header, has := m.store.AuthorizationHeader(); has {
			if err := m.api.Health(ctx, header); err != nil {
				if errs.Is(err, errs.ErrUnauthorized) {
					m.log.Info().Msg("stored session rejected by server, clearing")
					m.store.Clear("unauthorized")
					ok = false
				} else {
					m.log.Debug().Err(err).Msg("liveness probe inconclusive, keeping session")
				}
			}
		}
	}

	if !ok {
		restored, err := m.restore(ctx)
		if err != nil {
			if !errs.Is(err, errs.ErrRestorationFailed) {
				m.log.Debug().Err(err).Msg("session restoration attempt failed")
			}
		} else {
			record = restored
			ok = true
		}
	}

	if ok {
		m.armFor(record)
		m.bus.Emit(bus.Event{State: bus.Authenticated, Email: record.Email, Cause: "start"})
	} else {
		m.bus.Emit(bus.Event{State: bus.Unauthenticated, Cause: "start"})
	}

	m.scheduleRevalidation()
}

// restore attempts session restoration from the stored server-side
// identifier. Rejection clears the identifier so it is not retried.
func (m *Manager) restore(ctx context.Context) (session.Record, error) {
	id, ok := m.store.RestoreID()
	if !ok {
		return session.Record{}, errs.Wrapf(errs.ErrRestorationFailed, "no stored session identifier")
	}

	resp, err := m.api.RestoreSession(ctx, id)
	if err != nil {
		if errs.Is(err, errs.ErrRestorationFailed) {
			m.store.ClearRestoreID()
		}
		return session.Record{}, err
	}

	if !m.cfg.Authorize(resp.User.Email) {
		m.store.ClearRestoreID()
		return session.Record{}, errs.Wrapf(errs.ErrUnauthorized, "restored session for %q", resp.User.Email)
	}

	record := session.NewRecord(
		resp.User.Email,
		resp.Tokens,
		time.Duration(resp.ExpiresIn)*time.Second,
		m.cfg.MaxTokenDuration,
		m.cfg.UserAgent,
		m.clock.Now(),
	)
	if err := m.store.Save(record, "restore"); err != nil {
		return session.Record{}, err
	}
	return record, nil
}

// Login validates the email against the authorization predicate and
// requests a magic link. The predicate runs before any network call.
func (m *Manager) Login(ctx context.Context, email string) error {
	if !m.cfg.Authorize(email) {
		return errs.Wrapf(errs.ErrUnauthorized, "[Login] %q", email)
	}
	return m.api.MagicLink(ctx, email, m.cfg.LoginRole)
}

// Verify exchanges a one-time token for a session. On success the record
// is persisted, the restore identifier stored, and the scheduler armed.
func (m *Manager) Verify(ctx context.Context, oneTimeToken, email string) error {
	if !m.cfg.Authorize(email) {
		return errs.Wrapf(errs.ErrUnauthorized, "[Verify] %q", email)
	}

	// The client session identifier lets the server associate this
	// login with a restorable session even when it does not mint one.
	clientSessionID := uuid.NewString()

	resp, err := m.api.Verify(ctx, oneTimeToken, email, clientSessionID)
	if err != nil {
		return err
	}

	record := session.NewRecord(
		email,
		resp.Tokens,
		time.Duration(resp.ExpiresIn)*time.Second,
		m.cfg.MaxTokenDuration,
		m.cfg.UserAgent,
		m.clock.Now(),
	)
	if err := m.store.Save(record, "login"); err != nil {
		return err
	}

	if resp.SessionID != "" {
		m.store.SetRestoreID(resp.SessionID)
	} else {
		m.store.SetRestoreID(clientSessionID)
	}

	if resp.UserRole != "" {
		if cs, ok := m.CurrentUser(); ok {
			m.roles.SeedSelection(cs, roles.Role(resp.UserRole))
		}
	}

	m.sched.Ledger().Reset()
	m.armFor(record)
	return nil
}

// ManualRefresh performs a user-requested refresh immediately. It resets
// the attempt ledger first: an explicit user action is never throttled
// by the minimum-interval guard.
func (m *Manager) ManualRefresh(ctx context.Context) error {
	m.sched.Ledger().Reset()

	now := m.clock.Now()
	if !m.sched.Ledger().Begin(now, m.cfg.MinRefreshInterval) {
		// Unreachable after a reset, but the ledger stays the single
		// gatekeeper for every trigger source.
		return errs.Wrapf(errs.ErrRefreshTransient, "refresh attempt throttled")
	}

	expiresAt, err := m.refreshOnce(ctx)
	if err != nil {
		if errs.Is(err, errs.ErrRefreshRejected) {
			m.onRefreshRejected()
		} else {
			m.sched.Ledger().RecordFailure()
		}
		return err
	}

	m.sched.Ledger().Reset()
	m.sched.Arm(expiresAt)
	return nil
}

// scheduledAttempt is the scheduler's attempt callback. Ledger policy is
// applied by the scheduler; this only performs the exchange.
func (m *Manager) scheduledAttempt(ctx context.Context) (time.Time, error) {
	return m.refreshOnce(ctx)
}

// refreshOnce performs one refresh exchange against the current session.
// It snapshots the session epoch before the network call and discards
// the result if the session was cleared while the call was in flight, so
// a slow response can never resurrect a logged-out session.
func (m *Manager) refreshOnce(ctx context.Context) (time.Time, error) {
	record, ok := m.store.Current()
	if !ok {
		return time.Time{}, errs.Wrapf(errs.ErrNotAuthenticated, "[refresh]")
	}
	if record.Tokens.RefreshToken == "" {
		return time.Time{}, errs.Wrapf(errs.ErrRefreshTransient, "[refresh] session has no refresh token")
	}

	epoch := m.store.Epoch()

	resp, err := m.api.Refresh(ctx, record.Tokens.RefreshToken)
	if err != nil {
		return time.Time{}, err
	}

	if m.store.Epoch() != epoch {
		return time.Time{}, errs.Wrapf(errs.ErrNotAuthenticated, "[refresh] session replaced during refresh")
	}

	updated := record.Refreshed(
		resp.Tokens,
		time.Duration(resp.ExpiresIn)*time.Second,
		m.cfg.MaxTokenDuration,
		m.clock.Now(),
	)
	if err := m.store.Save(updated, "refresh"); err != nil {
		return time.Time{}, err
	}
	return updated.ExpiresAt, nil
}

// onRefreshRejected handles a terminal 401/403 from the refresh
// endpoint: the session is unrecoverable and is torn down locally.
func (m *Manager) onRefreshRejected() {
	m.sched.Cancel()
	m.store.ClearRestoreID()
	m.store.Clear("refresh-rejected")
}

// Logout tears the session down. The server-side invalidation is
// fire-and-forget: logout is always locally authoritative.
func (m *Manager) Logout(ctx context.Context) {
	m.sched.Cancel()

	if id, ok := m.store.RestoreID(); ok {
		if err := m.api.Logout(ctx, id); err != nil {
			m.log.Debug().Err(err).Msg("server logout failed, ignoring")
		}
	}

	m.store.ClearRestoreID()
	m.store.Clear("logout")
}

// Close stops background activity without clearing the session.
func (m *Manager) Close() {
	m.sched.Cancel()

	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	if m.revalTimer != nil {
		m.revalTimer.Stop()
		m.revalTimer = nil
	}
}

// armFor arms the scheduler for the record's expiry. A session without a
// refresh token cannot refresh; it is deliberately left logged in until
// expiry rather than forced out, and the condition is logged once.
func (m *Manager) armFor(record session.Record) {
	if record.Tokens.RefreshToken == "" {
		m.noRefreshWarn.Do(func() {
			m.log.Warn().Str("email", record.Email).Msg("session has no refresh token, proactive refresh disabled")
		})
		return
	}
	m.sched.Arm(record.ExpiresAt)
}

// scheduleRevalidation arms the periodic liveness probe. It runs
// independently of the refresh scheduler so server-side revocation is
// caught between scheduled refreshes.
func (m *Manager) scheduleRevalidation() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return
	}
	if m.revalTimer != nil {
		m.revalTimer.Stop()
	}
	m.revalTimer = m.clock.After(m.cfg.RevalidateInterval, m.revalidate)
}

func (m *Manager) revalidate() {
	defer m.scheduleRevalidation()

	header, ok := m.store.AuthorizationHeader()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	if err := m.api.Health(ctx, header); err != nil {
		if errs.Is(err, errs.ErrUnauthorized) {
			m.log.Info().Msg("periodic validation rejected session, clearing")
			m.sched.Cancel()
			m.store.ClearRestoreID()
			m.store.Clear("unauthorized")
			return
		}
		m.log.Debug().Err(err).Msg("periodic validation inconclusive")
	}
}

// IsAuthenticated reports whether a non-expired session is loaded.
func (m *Manager) IsAuthenticated() bool {
	_, ok := m.store.AuthorizationHeader()
	return ok
}

// CurrentUser returns the claim set for the current session's identity
// token. Opaque tokens fall back to the persisted email and expiry.
func (m *Manager) CurrentUser() (token.ClaimSet, bool) {
	record, ok := m.store.Current()
	if !ok {
		return token.ClaimSet{}, false
	}

	if cs, decoded := token.Decode(record.Tokens.IdentityToken()); decoded {
		if cs.Email == "" {
			cs.Email = record.Email
		}
		return cs, true
	}

	return token.ClaimSet{
		Email:     record.Email,
		ExpiresAt: record.ExpiresAt.Unix(),
	}, true
}

// AuthHeader builds the bearer header for resource API calls.
func (m *Manager) AuthHeader() (string, bool) {
	return m.store.AuthorizationHeader()
}

// Subscribe registers a listener for authentication state changes.
func (m *Manager) Subscribe(listener bus.Listener) (unsubscribe func()) {
	return m.bus.Subscribe(listener)
}

// AvailableRoles returns the roles the current session may assume.
func (m *Manager) AvailableRoles() []roles.Role {
	cs, ok := m.CurrentUser()
	if !ok {
		return nil
	}
	return m.roles.AvailableRoles(cs)
}

// PrimaryRole returns the active role for the current session.
func (m *Manager) PrimaryRole() (roles.Role, bool) {
	cs, ok := m.CurrentUser()
	if !ok {
		return "", false
	}
	return m.roles.PrimaryRole(cs), true
}

// SelectRole switches the active role. The selection must be a member of
// the available set; a successful switch is broadcast on the bus.
func (m *Manager) SelectRole(role roles.Role) error {
	cs, ok := m.CurrentUser()
	if !ok {
		return errs.Wrapf(errs.ErrNotAuthenticated, "[SelectRole]")
	}
	if err := m.roles.SelectRole(cs, role); err != nil {
		return err
	}
	m.bus.Emit(bus.Event{State: bus.Authenticated, Email: cs.Email, Cause: "role-switch"})
	return nil
}
