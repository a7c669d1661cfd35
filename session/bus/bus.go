// Package bus implements the synchronous broadcast channel for
// authentication state changes. Screens subscribe once and react to
// transitions instead of polling the session store.
package bus

import "sync"

// State is the authentication state carried by every event.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Event describes one authentication state transition.
type Event struct {
	State State

	// Email is set when State is Authenticated.
	Email string

	// Cause names the transition: "login", "refresh", "restore",
	// "role-switch", "logout", "expired", "schema-stale", "unauthorized".
	Cause string
}

// Listener receives events synchronously, in subscription order.
type Listener func(Event)

type subscription struct {
	id       uint64
	listener Listener
}

// Bus fans events out to all live listeners.
type Bus struct {
	lock   sync.Mutex
	nextID uint64
	subs   []subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers listener and returns a function that removes it.
// Unsubscribing twice is harmless.
func (b *Bus) Subscribe(listener Listener) (unsubscribe func()) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: listener})

	return func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers event to every listener synchronously, in subscription
// order. A panicking listener must not prevent later listeners from
// being notified, so each invocation is isolated.
func (b *Bus) Emit(event Event) {
	b.lock.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.lock.Unlock()

	for _, s := range subs {
		invoke(s.listener, event)
	}
}

func invoke(listener Listener, event Event) {
	defer func() {
		_ = recover()
	}()
	listener(event)
}
