package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// KVConfig holds configuration for the JetStream key-value bucket
type KVConfig struct {
	Bucket     string
	InMemory   bool // Use memory storage instead of file storage
	Replicas   int
	MaxRetries int // Bound for Increment's check-and-set loop
}

// DefaultKVConfig returns default bucket configuration
func DefaultKVConfig() KVConfig {
	return KVConfig{
		Bucket:     "TYPERACE_STATE",
		InMemory:   false,
		Replicas:   1,
		MaxRetries: 32,
	}
}

// NATSStore implements Store on a JetStream KeyValue bucket. Revisions are the
// bucket's per-subject sequence numbers, so Update maps onto JetStream's
// expected-last-sequence check.
type NATSStore struct {
	kv         jetstream.KeyValue
	maxRetries int
}

// NewNATSStore creates or binds the bucket described by config
func NewNATSStore(ctx context.Context, js jetstream.JetStream, config KVConfig) (*NATSStore, error) {
	storage := jetstream.FileStorage
	if config.InMemory {
		storage = jetstream.MemoryStorage
	}
	replicas := config.Replicas
	if replicas < 1 {
		replicas = 1
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "Typing race member and race records",
		History:     1,
		Storage:     storage,
		Replicas:    replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create key-value bucket %s: %w", config.Bucket, err)
	}

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultKVConfig().MaxRetries
	}

	log.Info().Str("bucket", config.Bucket).Msg("key-value store ready")
	return &NATSStore{kv: kv, maxRetries: maxRetries}, nil
}

func (s *NATSStore) Get(ctx context.Context, key string) (Entry, error) {
	e, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return Entry{}, ErrKeyNotFound
		}
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Entry{Key: key, Value: e.Value(), Revision: e.Revision()}, nil
}

func (s *NATSStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return rev, nil
}

func (s *NATSStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(ctx, key, value)
	if err != nil {
		if isWrongLastSequence(err) {
			return 0, ErrKeyExists
		}
		return 0, fmt.Errorf("create %s: %w", key, err)
	}
	return rev, nil
}

func (s *NATSStore) Update(ctx context.Context, key string, value []byte, lastRevision uint64) (uint64, error) {
	rev, err := s.kv.Update(ctx, key, value, lastRevision)
	if err != nil {
		if isWrongLastSequence(err) {
			return 0, ErrRevisionMismatch
		}
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return rev, nil
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *NATSStore) DeleteRevision(ctx context.Context, key string, lastRevision uint64) error {
	if err := s.kv.Delete(ctx, key, jetstream.LastRevision(lastRevision)); err != nil {
		if isWrongLastSequence(err) {
			return ErrRevisionMismatch
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Increment is a check-and-set loop over the bucket; the bucket has no native counter.
func (s *NATSStore) Increment(ctx context.Context, key string) (int64, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		entry, err := s.Get(ctx, key)
		switch {
		case errors.Is(err, ErrKeyNotFound):
			if _, err := s.Create(ctx, key, []byte("1")); err != nil {
				if errors.Is(err, ErrKeyExists) {
					continue
				}
				return 0, err
			}
			return 1, nil

		case err != nil:
			return 0, err
		}

		current, err := strconv.ParseInt(string(entry.Value), 10, 64)
		if err != nil {
			return 0, ErrInvalidCounterVal
		}
		next := current + 1

		if _, err := s.Update(ctx, key, []byte(strconv.FormatInt(next, 10)), entry.Revision); err != nil {
			if errors.Is(err, ErrRevisionMismatch) {
				log.Debug().Str("key", key).Int("attempt", attempt).Msg("counter increment conflicted, retrying")
				continue
			}
			return 0, err
		}
		return next, nil
	}
	return 0, fmt.Errorf("increment %s: %w", key, ErrRetriesExhausted)
}

// isWrongLastSequence reports whether JetStream rejected a write because the
// subject's last sequence did not match the expected revision.
func isWrongLastSequence(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
