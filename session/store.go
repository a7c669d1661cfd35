// Package session owns the persisted session record: loading and
// validating it on cold start, mutating it on refresh, and destroying it
// on logout or invalidation. All mutation paths in the application funnel
// through Save and Clear; nothing else writes session state.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	errs "github.com/rosterhq/portal-session/internal/errors"
	"github.com/rosterhq/portal-session/kvstore"
	"github.com/rosterhq/portal-session/session/bus"
)

// Store is the single authority over the persisted session record.
type Store struct {
	kv        *kvstore.Store
	bus       *bus.Bus
	authorize func(email string) bool
	nowTime   func() time.Time
	log       zerolog.Logger

	lock    sync.Mutex
	current *Record
	epoch   uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// NewStore creates a session store. authorize is the variant's email
// predicate; records failing it are discarded at load time.
func NewStore(kv *kvstore.Store, eventBus *bus.Bus, authorize func(email string) bool, log zerolog.Logger, options ...StoreOption) (*Store, error) {
	if kv == nil {
		return nil, errors.New("[NewStore] kv store is required")
	}
	if eventBus == nil {
		return nil, errors.New("[NewStore] event bus is required")
	}
	if authorize == nil {
		authorize = func(string) bool { return true }
	}

	store := &Store{
		kv:        kv,
		bus:       eventBus,
		authorize: authorize,
		nowTime:   time.Now,
		log:       log,
	}

	for _, opt := range options {
		opt(store)
	}

	return store, nil
}

// Load reads the persisted record and returns it when usable. It returns
// ok=false when the record is absent, schema-stale, unauthorized, or
// expired; every rejection cause is logged distinctly, and any rejected
// record is cleared so the same bad state is not revisited.
func (s *Store) Load() (Record, bool) {
	record, ok, rejectCause := s.loadLocked()
	if rejectCause != "" {
		s.bus.Emit(bus.Event{State: bus.Unauthenticated, Cause: rejectCause})
	}
	return record, ok
}

// loadLocked holds the mutex for the read-validate-purge sequence and
// returns the rejection cause to emit, if any. Emission happens in Load
// after the mutex is released; listeners may read the store.
func (s *Store) loadLocked() (Record, bool, string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	raw, found, err := s.kv.Get(RecordKey)
	if err != nil || !found {
		if err != nil {
			s.log.Warn().Err(err).Msg("session storage unreadable")
		}
		return Record{}, false, ""
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		s.log.Info().Err(err).Msg("discarding undecodable session record")
		s.purgeLocked()
		return Record{}, false, "schema-stale"
	}

	if record.SchemaVersion != SchemaVersion {
		s.log.Info().
			Int("stored", record.SchemaVersion).
			Int("current", SchemaVersion).
			Msg("discarding session record with stale schema")
		s.purgeLocked()
		return Record{}, false, "schema-stale"
	}

	if !s.authorize(record.Email) {
		s.log.Warn().Str("email", record.Email).Msg("discarding session for unauthorized email")
		s.purgeLocked()
		return Record{}, false, "unauthorized"
	}

	if record.ExpiredAt(s.nowTime()) {
		s.log.Info().Time("expiresAt", record.ExpiresAt).Msg("discarding expired session record")
		s.purgeLocked()
		return Record{}, false, "expired"
	}

	s.current = &record
	return record, true, ""
}

// Save overwrites the persisted record, stamps lastRefreshAt, and emits
// an Authenticated event with the given cause. Saving the same record
// twice is harmless. The event fires after the store mutex is released,
// so listeners may call back into the accessors.
func (s *Store) Save(record Record, cause string) error {
	if err := s.saveLocked(&record); err != nil {
		return err
	}
	s.bus.Emit(bus.Event{State: bus.Authenticated, Email: record.Email, Cause: cause})
	return nil
}

func (s *Store) saveLocked(record *Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	record.SchemaVersion = SchemaVersion
	record.LastRefreshAt = s.nowTime()

	encoded, err := json.Marshal(record)
	if err != nil {
		return errs.Wrapf(err, "[Save] encoding session record")
	}
	if err := s.kv.Put(RecordKey, string(encoded)); err != nil {
		return errs.Wrapf(err, "[Save] persisting session record")
	}

	s.current = record
	return nil
}

// Clear destroys the persisted record and every legacy key an older
// schema has ever written, bumps the session epoch, and emits an
// Unauthenticated event. Calling Clear on an already-empty store leaves
// the same empty state. As with Save, the event fires outside the mutex.
func (s *Store) Clear(cause string) {
	s.lock.Lock()
	s.purgeLocked()
	s.lock.Unlock()

	s.bus.Emit(bus.Event{State: bus.Unauthenticated, Cause: cause})
}

// purgeLocked removes all persisted session state and bumps the epoch.
// Callers hold s.lock and are responsible for emitting the event.
func (s *Store) purgeLocked() {
	if err := s.kv.Remove(RecordKey); err != nil {
		s.log.Warn().Err(err).Msg("removing session record")
	}
	for _, key := range legacyKeys {
		if err := s.kv.Remove(key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("removing legacy session key")
		}
	}

	s.current = nil
	s.epoch++
}

// Current returns the in-memory copy of the loaded record.
func (s *Store) Current() (Record, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.current == nil {
		return Record{}, false
	}
	return *s.current, true
}

// AuthorizationHeader builds "Bearer <access_token>" when the session is
// authenticated and not expired by the local clock.
func (s *Store) AuthorizationHeader() (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.current == nil || s.current.ExpiredAt(s.nowTime()) {
		return "", false
	}
	return "Bearer " + s.current.Tokens.AccessToken, true
}

// Epoch identifies the current session generation. It increments on
// every Clear; an in-flight network completion that started under an
// older epoch must discard its result instead of resurrecting a cleared
// session.
func (s *Store) Epoch() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.epoch
}

// RestoreID returns the stored opaque server-side session identifier.
func (s *Store) RestoreID() (string, bool) {
	id, ok, err := s.kv.Get(RestoreIDKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("reading restore identifier")
		return "", false
	}
	return id, ok && id != ""
}

// SetRestoreID stores the opaque server-side session identifier.
func (s *Store) SetRestoreID(id string) {
	if err := s.kv.Put(RestoreIDKey, id); err != nil {
		s.log.Warn().Err(err).Msg("storing restore identifier")
	}
}

// ClearRestoreID removes the stored session identifier.
func (s *Store) ClearRestoreID() {
	if err := s.kv.Remove(RestoreIDKey); err != nil {
		s.log.Warn().Err(err).Msg("removing restore identifier")
	}
}
