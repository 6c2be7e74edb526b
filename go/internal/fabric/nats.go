package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/state"
)

// NATSConfig holds configuration for the NATS-backed fabric
type NATSConfig struct {
	SubjectPrefix string // e.g. "typerace.fabric"
	MaxRetries    int    // Bound for membership check-and-set loops
}

// DefaultNATSConfig returns default fabric configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		SubjectPrefix: "typerace.fabric",
		MaxRetries:    32,
	}
}

// roomRecord is the persisted membership of one room
type roomRecord struct {
	Members []string `json:"members"`
}

// envelope is what travels on the wire between processes
type envelope struct {
	Recipients []string `json:"recipients"`
	Message    Message  `json:"message"`
}

// NATSFabric keeps room membership in a shared Store (check-and-set on one record
// per room) and fans messages out over core NATS. Every process subscribes to the
// fabric subjects and hands messages for its own connections to its Deliverer.
type NATSFabric struct {
	store     state.Store
	nc        *nats.Conn
	deliverer Deliverer
	config    NATSConfig
	sub       *nats.Subscription
}

// NewNATSFabric creates the fabric and subscribes to the fan-out subjects
func NewNATSFabric(nc *nats.Conn, store state.Store, d Deliverer, config NATSConfig) (*NATSFabric, error) {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultNATSConfig().MaxRetries
	}

	f := &NATSFabric{
		store:     store,
		nc:        nc,
		deliverer: d,
		config:    config,
	}

	sub, err := nc.Subscribe(config.SubjectPrefix+".>", f.handleMsg)
	if err != nil {
		return nil, fmt.Errorf("subscribe to fabric subjects: %w", err)
	}
	f.sub = sub

	// Make sure the subscription is registered before anyone publishes to it
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("flush fabric subscription: %w", err)
	}

	log.Info().Str("subject", config.SubjectPrefix+".>").Msg("room fabric subscribed")
	return f, nil
}

// Close stops receiving fan-out messages
func (f *NATSFabric) Close() error {
	if f.sub != nil {
		return f.sub.Unsubscribe()
	}
	return nil
}

func (f *NATSFabric) RoomExists(ctx context.Context, room string) (bool, error) {
	members, err := f.Members(ctx, room)
	if err != nil {
		return false, err
	}
	return len(members) > 0, nil
}

func (f *NATSFabric) Members(ctx context.Context, room string) ([]string, error) {
	rec, _, err := f.load(ctx, room)
	if err != nil {
		return nil, err
	}
	return rec.Members, nil
}

func (f *NATSFabric) Join(ctx context.Context, room, connID string, limit int) error {
	return f.mutate(ctx, room, func(rec *roomRecord) error {
		if slices.Contains(rec.Members, connID) {
			return ErrAlreadyMember
		}
		if limit > 0 && len(rec.Members) >= limit {
			return ErrRoomFull
		}
		rec.Members = append(rec.Members, connID)
		return nil
	})
}

// Leave deletes the room record once the last member is gone
func (f *NATSFabric) Leave(ctx context.Context, room, connID string) error {
	return f.mutate(ctx, room, func(rec *roomRecord) error {
		idx := slices.Index(rec.Members, connID)
		if idx < 0 {
			return ErrNotMember
		}
		rec.Members = slices.Delete(rec.Members, idx, idx+1)
		return nil
	})
}

func (f *NATSFabric) Broadcast(ctx context.Context, room string, msg Message) error {
	members, err := f.Members(ctx, room)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	return f.publish(f.config.SubjectPrefix+".room."+room, envelope{Recipients: members, Message: msg})
}

func (f *NATSFabric) Send(ctx context.Context, connID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.publish(f.config.SubjectPrefix+".direct", envelope{Recipients: []string{connID}, Message: msg})
}

func (f *NATSFabric) publish(subject string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal fabric envelope: %w", err)
	}
	if err := f.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// handleMsg delivers an envelope to whichever recipients are attached locally
func (f *NATSFabric) handleMsg(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal fabric envelope")
		return
	}

	delivered := 0
	for _, id := range env.Recipients {
		if f.deliverer.Deliver(id, env.Message) {
			delivered++
		}
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event", env.Message.Event).
		Int("recipients", len(env.Recipients)).
		Int("delivered_locally", delivered).
		Msg("fabric message received")
}

func roomKey(room string) string { return "room." + room }

func (f *NATSFabric) load(ctx context.Context, room string) (roomRecord, uint64, error) {
	entry, err := f.store.Get(ctx, roomKey(room))
	if errors.Is(err, state.ErrKeyNotFound) {
		return roomRecord{}, 0, nil
	}
	if err != nil {
		return roomRecord{}, 0, fmt.Errorf("load room %s: %w", room, err)
	}

	var rec roomRecord
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return roomRecord{}, 0, fmt.Errorf("decode room %s: %w", room, err)
	}
	return rec, entry.Revision, nil
}

// mutate applies fn to the room record with check-and-set, retrying on conflict.
// Revision 0 means the record does not exist yet; an emptied room is deleted.
func (f *NATSFabric) mutate(ctx context.Context, room string, fn func(*roomRecord) error) error {
	for attempt := 0; attempt < f.config.MaxRetries; attempt++ {
		rec, rev, err := f.load(ctx, room)
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode room %s: %w", room, err)
		}

		switch {
		case rev == 0:
			_, err = f.store.Create(ctx, roomKey(room), data)
		case len(rec.Members) == 0:
			err = f.store.DeleteRevision(ctx, roomKey(room), rev)
		default:
			_, err = f.store.Update(ctx, roomKey(room), data, rev)
		}
		if errors.Is(err, state.ErrKeyExists) || errors.Is(err, state.ErrRevisionMismatch) {
			log.Debug().Str("room", room).Int("attempt", attempt).Msg("room membership write conflicted, retrying")
			continue
		}
		if err != nil {
			return fmt.Errorf("write room %s: %w", room, err)
		}
		return nil
	}
	return fmt.Errorf("update room %s: %w", room, state.ErrRetriesExhausted)
}
