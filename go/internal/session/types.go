package session

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/fabric"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/prompt"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/results"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/state"
)

// Status of a lobby, derived from whether a race record exists
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "InProgress"
)

// Member is the per-connection record
type Member struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Ready        bool      `json:"ready"`
	Leader       bool      `json:"leader"`
	LobbyCode    string    `json:"lobbyCode"`
	JoinSeq      int64     `json:"joinSeq"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// clearLobby resets the lobby-scoped fields. The display name is kept so a
// later join can omit it.
func (m *Member) clearLobby() {
	m.Ready = false
	m.Leader = false
	m.LobbyCode = ""
	m.JoinSeq = 0
	m.JoinedAt = time.Time{}
}

func (m Member) view() events.MemberView {
	return events.MemberView{
		ConnectionID: m.ConnectionID,
		DisplayName:  m.DisplayName,
		Ready:        m.Ready,
		Leader:       m.Leader,
		LobbyCode:    m.LobbyCode,
		JoinedAt:     m.JoinedAt,
	}
}

// Progress is one racer's standing within a race
type Progress struct {
	ConnectionID string     `json:"connectionId"`
	DisplayName  string     `json:"displayName"`
	Percentage   float64    `json:"percentage"`
	SpeedMetric  float64    `json:"speedMetric"`
	Placement    *int       `json:"placement"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Race is the record of a running race, keyed by lobby code
type Race struct {
	LobbyCode        string     `json:"lobbyCode"`
	Prompt           string     `json:"prompt"`
	PlacementCounter int        `json:"placementCounter"`
	StartedAt        time.Time  `json:"startedAt"`
	Members          []Progress `json:"members"`

	// Finished is set by whichever process claims completion; the record is
	// deleted right after.
	Finished bool `json:"finished,omitempty"`
}

func (r *Race) progress(connID string) *Progress {
	for i := range r.Members {
		if r.Members[i].ConnectionID == connID {
			return &r.Members[i]
		}
	}
	return nil
}

func (r *Race) standings() []events.ProgressView {
	out := make([]events.ProgressView, 0, len(r.Members))
	for _, p := range r.Members {
		out = append(out, events.ProgressView{
			ConnectionID: p.ConnectionID,
			DisplayName:  p.DisplayName,
			Percentage:   p.Percentage,
			SpeedMetric:  p.SpeedMetric,
			Placement:    p.Placement,
			FinishedAt:   p.FinishedAt,
		})
	}
	return out
}

// Config holds lobby rules
type Config struct {
	Capacity   int // Max members per lobby
	CodeLength int // Lobby code length
	MaxRetries int // Bound for check-and-set loops and code generation
}

// DefaultConfig returns default lobby rules
func DefaultConfig() Config {
	return Config{
		Capacity:   8,
		CodeLength: 6,
		MaxRetries: 16,
	}
}

// Deps are the collaborators a Service works against. Built once at startup.
type Deps struct {
	Store    state.Store
	Fabric   fabric.Fabric
	Prompts  prompt.Provider
	Recorder results.Recorder
	Clock    clockwork.Clock
	Config   Config
}
