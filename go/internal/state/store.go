package state

import (
	"context"
	"errors"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrKeyExists         = errors.New("key already exists")
	ErrRevisionMismatch  = errors.New("revision mismatch")
	ErrRetriesExhausted  = errors.New("too many conflicting writers")
	ErrInvalidCounterVal = errors.New("counter value is not an integer")
)

// Entry is a value read from the store along with the revision it was read at.
// Revisions are strictly increasing per key and are the token for check-and-set writes.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Store is the shared key-value store every server process talks to.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns ErrKeyNotFound when the key is absent or deleted.
	Get(ctx context.Context, key string) (Entry, error)

	// Put writes unconditionally.
	Put(ctx context.Context, key string, value []byte) (uint64, error)

	// Create writes only if the key is absent, otherwise ErrKeyExists.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Update writes only if the key is still at lastRevision, otherwise ErrRevisionMismatch.
	Update(ctx context.Context, key string, value []byte, lastRevision uint64) (uint64, error)

	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error

	// DeleteRevision deletes only if the key is still at lastRevision,
	// otherwise ErrRevisionMismatch.
	DeleteRevision(ctx context.Context, key string, lastRevision uint64) error

	// Increment atomically adds one to the integer stored at key (absent = 0)
	// and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)
}
