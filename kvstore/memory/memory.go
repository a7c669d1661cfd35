// Package memory provides an in-memory kvstore.Backend for tests.
package memory

import (
	"sync"

	"github.com/rosterhq/portal-session/kvstore"
)

var _ kvstore.Backend = (*Backend)(nil)

// Backend is a mutex-guarded map implementation of kvstore.Backend.
type Backend struct {
	values map[string][]byte
	lock   sync.RWMutex
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{values: make(map[string][]byte)}
}

func (b *Backend) Put(key string, value []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	b.values[key] = stored
	return nil
}

func (b *Backend) Get(key string) ([]byte, bool, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	value, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (b *Backend) Delete(key string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	delete(b.values, key)
	return nil
}

// Keys returns the stored keys, for test assertions.
func (b *Backend) Keys() []string {
	b.lock.RLock()
	defer b.lock.RUnlock()

	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	return keys
}

// RawValue returns the stored bytes for key without any decoding, for
// test assertions about the at-rest representation.
func (b *Backend) RawValue(key string) ([]byte, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	value, ok := b.values[key]
	return value, ok
}
