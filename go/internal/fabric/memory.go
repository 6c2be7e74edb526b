package fabric

import (
	"context"
	"slices"
	"sync"
)

// MemoryFabric keeps rooms in process memory and delivers straight to a Deliverer.
type MemoryFabric struct {
	mu        sync.Mutex
	rooms     map[string][]string
	deliverer Deliverer
}

// NewMemoryFabric creates a fabric that delivers through d
func NewMemoryFabric(d Deliverer) *MemoryFabric {
	return &MemoryFabric{
		rooms:     make(map[string][]string),
		deliverer: d,
	}
}

func (f *MemoryFabric) RoomExists(ctx context.Context, room string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms[room]) > 0, nil
}

func (f *MemoryFabric) Members(ctx context.Context, room string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.rooms[room]), nil
}

func (f *MemoryFabric) Join(ctx context.Context, room, connID string, limit int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	members := f.rooms[room]
	if slices.Contains(members, connID) {
		return ErrAlreadyMember
	}
	if limit > 0 && len(members) >= limit {
		return ErrRoomFull
	}
	f.rooms[room] = append(members, connID)
	return nil
}

func (f *MemoryFabric) Leave(ctx context.Context, room, connID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	members := f.rooms[room]
	idx := slices.Index(members, connID)
	if idx < 0 {
		return ErrNotMember
	}

	members = slices.Delete(slices.Clone(members), idx, idx+1)
	if len(members) == 0 {
		delete(f.rooms, room)
		return nil
	}
	f.rooms[room] = members
	return nil
}

func (f *MemoryFabric) Broadcast(ctx context.Context, room string, msg Message) error {
	members, err := f.Members(ctx, room)
	if err != nil {
		return err
	}
	for _, id := range members {
		f.deliverer.Deliver(id, msg)
	}
	return nil
}

func (f *MemoryFabric) Send(ctx context.Context, connID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.deliverer.Deliver(connID, msg)
	return nil
}
