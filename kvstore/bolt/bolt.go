// Package bolt provides the bbolt-backed persistent key/value backend
// used in production. All portal session state lives in a single file
// with owner-only permissions.
package bolt

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bboltdb "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the database lock.
	openTimeout = 5 * time.Second
)

var sessionBucket = []byte("session")

// Backend is a bbolt-backed kvstore.Backend.
type Backend struct {
	db *bboltdb.DB
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bboltdb.Open(path, stateFilePerm, &bboltdb.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state database %s: %w", path, err)
	}

	err = db.Update(func(tx *bboltdb.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session bucket: %w", err)
	}

	return &Backend{db: db}, nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Put stores value under key.
func (b *Backend) Put(key string, value []byte) error {
	return b.db.Update(func(tx *bboltdb.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(key), value)
	})
}

// Get retrieves the value for key.
func (b *Backend) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(tx *bboltdb.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(key))
		if v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// Delete removes key.
func (b *Backend) Delete(key string) error {
	return b.db.Update(func(tx *bboltdb.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(key))
	})
}
