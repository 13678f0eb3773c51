// Package store persists reconciliation snapshots under fixed keys. It plays
// the role browser local storage plays for the portal UI: small JSON documents
// replaced wholesale on every write.
package store

import (
	"errors"
	"fmt"
)

// Keys written by the session. Each key has exactly one writer.
const (
	KeyEvents        = "events"
	KeyAnnouncements = "announcements"
	KeyRead          = "read"
	KeyTombstones    = "tombstones"
)

// Store is a synchronous key/value snapshot store.
type Store interface {
	// Load decodes the value under key into v. It reports false with a nil
	// error when the key has never been written.
	Load(key string, v any) (bool, error)
	// Save replaces the value under key.
	Save(key string, v any) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	Close() error
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver rooted at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

var errInvalidKey = errors.New("store: invalid key")

// validKey restricts keys to a safe file-name alphabet.
func validKey(key string) error {
	if key == "" {
		return errInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %q", errInvalidKey, key)
		}
	}
	return nil
}
