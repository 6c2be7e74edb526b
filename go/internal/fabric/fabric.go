package fabric

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyMember = errors.New("connection already in room")
	ErrNotMember     = errors.New("connection not in room")
)

// Message is the unit of fan-out: an outbound event name and its JSON payload.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage marshals data into a Message
func NewMessage(event string, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: raw}, nil
}

// Deliverer hands a message to a locally attached connection. It returns
// false when the connection is not attached to this process.
type Deliverer interface {
	Deliver(connID string, msg Message) bool
}

// Fabric owns room membership and message fan-out across server processes.
// Members are reported in join order.
type Fabric interface {
	RoomExists(ctx context.Context, room string) (bool, error)
	Members(ctx context.Context, room string) ([]string, error)

	// Join adds connID to room, creating the room if needed. A limit <= 0 means unbounded.
	Join(ctx context.Context, room, connID string, limit int) error

	// Leave removes connID from room; used both for voluntary leaves and forced removal.
	Leave(ctx context.Context, room, connID string) error

	Broadcast(ctx context.Context, room string, msg Message) error
	Send(ctx context.Context, connID string, msg Message) error
}
