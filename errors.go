package nvmstore

import "errors"

var (
	// ErrKeyNotFound is returned when a key doesn't exist or was deleted.
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine is closed")

	// ErrEmptyKey is returned when a write names the empty key.
	ErrEmptyKey = errors.New("key must not be empty")

	// ErrKeyTooLarge is returned when a write names a key longer than
	// shared.MaxKeySize bytes.
	ErrKeyTooLarge = errors.New("key too large")
)
