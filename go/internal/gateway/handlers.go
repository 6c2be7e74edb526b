package gateway

import (
	"context"
	"encoding/json"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/session"
)

// Sessions is the session engine as seen by the gateway
type Sessions interface {
	Connect(ctx context.Context, connID string) error
	Disconnect(ctx context.Context, connID string) error
	CreateLobby(ctx context.Context, connID, displayName string) (string, error)
	JoinLobby(ctx context.Context, connID, code, displayName string) error
	LeaveLobby(ctx context.Context, connID, code string) error
	ToggleReady(ctx context.Context, connID, code string) error
	KickPlayer(ctx context.Context, connID, code, targetName, targetID string) error
	StartRace(ctx context.Context, connID, code string) error
	LetterTyped(ctx context.Context, connID, code string, percentage, speedMetric float64) error
	Lobby(ctx context.Context, code string) (events.LobbyUpdatePayload, error)
}

func (r *Router) registerSessionHandlers() {
	s := r.sessions

	r.Register(events.CreateLobby, events.LobbyUpdate, func(ctx context.Context, connID string, data json.RawMessage) error {
		var p events.CreateLobbyPayload
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		_, err := s.CreateLobby(ctx, connID, p.DisplayName)
		return err
	})

	r.Register(events.JoinLobby, events.LobbyUpdate, func(ctx context.Context, connID string, data json.RawMessage) error {
		var p events.JoinLobbyPayload
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		return s.JoinLobby(ctx, connID, p.LobbyCode, p.DisplayName)
	})

	r.Register(events.LeaveLobby, events.LobbyUpdate, func(ctx context.Context, connID string, data json.RawMessage) error {
		var p events.LobbyPayload
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		return s.LeaveLobby(ctx, connID, p.LobbyCode)
	})

	r.Register(events.ToggleReady, events.LobbyUpdate, func(ctx context.Context, connID string, data json.RawMessage) error {
		var p events.LobbyPayload
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		return s.ToggleReady(ctx, connID, p.LobbyCode)
	})

	r.Register(events.KickPlayer, events.LobbyUpdate, func(ctx context.Context, connID string, data json.RawMessage) error {
		var p events.KickPlayerPayload
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		return s.KickPlayer(ctx, connID, p.LobbyCode, p.TargetName, p.TargetID)
	})

	r.Register(events.StartRace, events.RaceInit, func(ctx context.Context, connID string, data json.RawMessage) error {
		var p events.LobbyPayload
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		return s.StartRace(ctx, connID, p.LobbyCode)
	})

	r.Register(events.LetterTyped, events.UpdateText, func(ctx context.Context, connID string, data json.RawMessage) error {
		var p events.LetterTypedPayload
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		return s.LetterTyped(ctx, connID, p.LobbyCode, p.Percentage, p.SpeedMetric)
	})
}

// decodePayload treats a missing payload as an empty object
func decodePayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &session.Error{Code: session.CodeValidation, Message: "malformed payload"}
	}
	return nil
}
