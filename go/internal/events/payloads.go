package events

import (
	"time"
)

// Event names shared between the gateway and the session engine

// Inbound (client -> server)
const (
	CreateLobby = "createLobby"
	JoinLobby   = "joinLobby"
	LeaveLobby  = "leaveLobby"
	ToggleReady = "toggleReady"
	KickPlayer  = "kickPlayer"
	StartRace   = "startRace"
	LetterTyped = "letterTyped"
)

// Outbound (server -> client)
const (
	LobbyUpdate = "lobbyUpdate"
	RaceInit    = "raceInit"
	UpdateText  = "updateText"
	Kicked      = "kicked"
)

// CreateLobbyPayload is the payload for a createLobby event
type CreateLobbyPayload struct {
	DisplayName string `json:"displayName"`
}

// JoinLobbyPayload is the payload for a joinLobby event
type JoinLobbyPayload struct {
	LobbyCode   string `json:"lobbyCode"`
	DisplayName string `json:"displayName,omitempty"`
}

// LobbyPayload carries just a lobby code (leaveLobby, toggleReady, startRace)
type LobbyPayload struct {
	LobbyCode string `json:"lobbyCode"`
}

// KickPlayerPayload is the payload for a kickPlayer event. TargetID wins over TargetName.
type KickPlayerPayload struct {
	LobbyCode  string `json:"lobbyCode"`
	TargetName string `json:"targetName,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
}

// LetterTypedPayload is the payload for a letterTyped event
type LetterTypedPayload struct {
	LobbyCode   string  `json:"lobbyCode"`
	Percentage  float64 `json:"percentage"`
	SpeedMetric float64 `json:"speedMetric"`
}

// ErrorPayload is sent on the response event name when an inbound event fails
type ErrorPayload struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the structured error
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MemberView is one member as shown in a lobby snapshot
type MemberView struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Ready        bool      `json:"ready"`
	Leader       bool      `json:"leader"`
	LobbyCode    string    `json:"lobbyCode"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// LobbyUpdatePayload is the payload for a lobbyUpdate event
type LobbyUpdatePayload struct {
	LobbyCode string       `json:"lobbyCode"`
	Status    string       `json:"status"`
	Capacity  int          `json:"capacity"`
	Members   []MemberView `json:"members"`
}

// ProgressView is one racer's standing
type ProgressView struct {
	ConnectionID string     `json:"connectionId"`
	DisplayName  string     `json:"displayName"`
	Percentage   float64    `json:"percentage"`
	SpeedMetric  float64    `json:"speedMetric"`
	Placement    *int       `json:"placement"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// RaceInitPayload is the payload for a raceInit event
type RaceInitPayload struct {
	LobbyCode string         `json:"lobbyCode"`
	Prompt    string         `json:"prompt"`
	StartedAt time.Time      `json:"startedAt"`
	Members   []ProgressView `json:"members"`
}

// UpdateTextPayload is the payload for an updateText event
type UpdateTextPayload struct {
	LobbyCode string         `json:"lobbyCode"`
	Members   []ProgressView `json:"members"`
	Complete  bool           `json:"complete"`
}

// KickedPayload is sent only to the removed connection
type KickedPayload struct {
	LobbyCode  string `json:"lobbyCode"`
	TargetName string `json:"targetName"`
}
