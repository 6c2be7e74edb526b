package state

import (
	"context"
	"strconv"
	"sync"
)

type memoryEntry struct {
	value    []byte
	revision uint64
}

// MemoryStore is a process-local Store. It backs single-instance deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	revision uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return Entry{Key: key, Value: clone(e.value), Revision: e.revision}, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(key, value), nil
}

func (s *MemoryStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return 0, ErrKeyExists
	}
	return s.writeLocked(key, value), nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, value []byte, lastRevision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.revision != lastRevision {
		return 0, ErrRevisionMismatch
	}
	return s.writeLocked(key, value), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) DeleteRevision(ctx context.Context, key string, lastRevision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.revision != lastRevision {
		return ErrRevisionMismatch
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e, ok := s.entries[key]; ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, ErrInvalidCounterVal
		}
		current = n
	}
	current++
	s.writeLocked(key, []byte(strconv.FormatInt(current, 10)))
	return current, nil
}

// writeLocked stores value under the next global revision. Caller holds s.mu.
func (s *MemoryStore) writeLocked(key string, value []byte) uint64 {
	s.revision++
	s.entries[key] = memoryEntry{value: clone(value), revision: s.revision}
	return s.revision
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
