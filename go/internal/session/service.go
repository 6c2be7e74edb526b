package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/fabric"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/prompt"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/results"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/state"
)

const (
	maxDisplayNameLen = 24
	defaultNamePrefix = "Racer-"

	recordCleanupTimeout = 2 * time.Second
)

// Service coordinates lobbies and races. It holds no lobby state of its own;
// everything lives in the shared store and the room fabric, so any number of
// processes can serve the same lobby.
type Service struct {
	store    state.Store
	fabric   fabric.Fabric
	prompts  prompt.Provider
	recorder results.Recorder
	clock    clockwork.Clock
	config   Config
	newCode  func(length int) (string, error)
}

// NewService creates a session service. Store and Fabric are required; the
// rest fall back to defaults.
func NewService(deps Deps) *Service {
	config := deps.Config
	defaults := DefaultConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.CodeLength <= 0 {
		config.CodeLength = defaults.CodeLength
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}

	s := &Service{
		store:    deps.Store,
		fabric:   deps.Fabric,
		prompts:  deps.Prompts,
		recorder: deps.Recorder,
		clock:    deps.Clock,
		config:   config,
		newCode:  generateCode,
	}
	if s.prompts == nil {
		s.prompts = prompt.NewStaticProvider(nil)
	}
	if s.recorder == nil {
		s.recorder = results.NopRecorder{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// Connect creates the member record for a newly attached connection
func (s *Service) Connect(ctx context.Context, connID string) error {
	value, err := json.Marshal(Member{ConnectionID: connID})
	if err != nil {
		return err
	}
	if _, err := s.store.Put(ctx, memberKey(connID), value); err != nil {
		return fmt.Errorf("create member %s: %w", connID, err)
	}
	log.Debug().Str("connection_id", connID).Msg("member record created")
	return nil
}

// Disconnect runs leave semantics for a dropped connection and deletes its
// record. The record is deleted even when leaving fails.
func (s *Service) Disconnect(ctx context.Context, connID string) error {
	m, _, err := s.loadMember(ctx, connID)
	if errors.Is(err, errRecordGone) {
		return nil
	}

	var leaveErr error
	switch {
	case err != nil:
		leaveErr = err
	case m.LobbyCode != "":
		leaveErr = s.leaveOnDisconnect(ctx, m)
	}
	if leaveErr != nil {
		log.Error().Err(leaveErr).
			Str("connection_id", connID).
			Str("lobby_code", m.LobbyCode).
			Msg("failed to leave lobby on disconnect")
	}

	// the handler deadline may already be spent
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordCleanupTimeout)
	defer cancel()
	if err := s.store.Delete(delCtx, memberKey(connID)); err != nil {
		return errors.Join(leaveErr, fmt.Errorf("delete member %s: %w", connID, err))
	}
	return leaveErr
}

func (s *Service) leaveOnDisconnect(ctx context.Context, m Member) error {
	code := m.LobbyCode
	finished, err := s.depart(ctx, m, code)
	if err != nil {
		return err
	}
	if !finished {
		if err := s.broadcastLobby(ctx, code); err != nil {
			return err
		}
	}
	log.Info().
		Str("connection_id", m.ConnectionID).
		Str("lobby_code", code).
		Msg("disconnected member removed from lobby")
	return nil
}

// Lobby returns the current snapshot of a lobby
func (s *Service) Lobby(ctx context.Context, code string) (events.LobbyUpdatePayload, error) {
	code, err := s.normalizeCode(code)
	if err != nil {
		return events.LobbyUpdatePayload{}, err
	}
	exists, err := s.fabric.RoomExists(ctx, code)
	if err != nil {
		return events.LobbyUpdatePayload{}, fmt.Errorf("check room %s: %w", code, err)
	}
	if !exists {
		return events.LobbyUpdatePayload{}, ErrNotFound
	}
	return s.snapshot(ctx, code)
}

// Status reports whether a race is running in the lobby
func (s *Service) Status(ctx context.Context, code string) (Status, error) {
	running, err := s.raceRunning(ctx, code)
	if err != nil {
		return "", err
	}
	if running {
		return StatusInProgress, nil
	}
	return StatusOpen, nil
}

func (s *Service) snapshot(ctx context.Context, code string) (events.LobbyUpdatePayload, error) {
	roster, err := s.roster(ctx, code)
	if err != nil {
		return events.LobbyUpdatePayload{}, err
	}
	status, err := s.Status(ctx, code)
	if err != nil {
		return events.LobbyUpdatePayload{}, err
	}

	views := make([]events.MemberView, 0, len(roster))
	for _, m := range roster {
		views = append(views, m.view())
	}
	return events.LobbyUpdatePayload{
		LobbyCode: code,
		Status:    string(status),
		Capacity:  s.config.Capacity,
		Members:   views,
	}, nil
}

// roster loads the member records of a room in join order. Connections whose
// record does not (yet) point at this room are left out.
func (s *Service) roster(ctx context.Context, code string) ([]Member, error) {
	ids, err := s.fabric.Members(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("list room %s: %w", code, err)
	}

	roster := make([]Member, 0, len(ids))
	for _, id := range ids {
		m, _, err := s.loadMember(ctx, id)
		if errors.Is(err, errRecordGone) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.LobbyCode == code {
			roster = append(roster, m)
		}
	}
	return roster, nil
}

func (s *Service) broadcastLobby(ctx context.Context, code string) error {
	snap, err := s.snapshot(ctx, code)
	if err != nil {
		return err
	}
	return s.broadcast(ctx, code, events.LobbyUpdate, snap)
}

func (s *Service) broadcast(ctx context.Context, code, event string, payload interface{}) error {
	msg, err := fabric.NewMessage(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := s.fabric.Broadcast(ctx, code, msg); err != nil {
		return fmt.Errorf("broadcast %s to %s: %w", event, code, err)
	}
	return nil
}

func (s *Service) send(ctx context.Context, connID, event string, payload interface{}) error {
	msg, err := fabric.NewMessage(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := s.fabric.Send(ctx, connID, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", event, connID, err)
	}
	return nil
}

func (s *Service) normalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != s.config.CodeLength {
		return "", newError(CodeValidation, "lobby code must be %d characters", s.config.CodeLength)
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeCharset, rune(code[i])) {
			return "", newError(CodeValidation, "lobby code must be letters and digits")
		}
	}
	return code, nil
}

func validateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", newError(CodeValidation, "display name is required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", newError(CodeValidation, "display name must be at most %d characters", maxDisplayNameLen)
	}
	return name, nil
}
