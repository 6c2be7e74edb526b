package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/fabric"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/state"
)

// CreateLobby opens a new lobby with the caller as its leader and returns the code
func (s *Service) CreateLobby(ctx context.Context, connID, displayName string) (string, error) {
	name, err := validateDisplayName(displayName)
	if err != nil {
		return "", err
	}

	m, _, err := s.loadMember(ctx, connID)
	if err != nil {
		return "", err
	}
	if m.LobbyCode != "" {
		return "", ErrAlreadyMember
	}

	code, err := s.claimCode(ctx, connID)
	if err != nil {
		return "", err
	}

	seq, err := s.store.Increment(ctx, joinSeqKey)
	if err != nil {
		s.rollbackJoin(ctx, code, connID)
		return "", fmt.Errorf("next join sequence: %w", err)
	}

	now := s.clock.Now()
	_, err = s.updateMember(ctx, connID, func(m *Member) error {
		m.DisplayName = name
		m.Ready = false
		m.Leader = true
		m.LobbyCode = code
		m.JoinSeq = seq
		m.JoinedAt = now
		return nil
	})
	if err != nil {
		s.rollbackJoin(ctx, code, connID)
		return "", err
	}

	log.Info().
		Str("connection_id", connID).
		Str("lobby_code", code).
		Str("display_name", name).
		Msg("lobby created")

	return code, s.broadcastLobby(ctx, code)
}

// claimCode generates codes until one names an empty room and the caller is
// its first member
func (s *Service) claimCode(ctx context.Context, connID string) (string, error) {
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		code, err := s.newCode(s.config.CodeLength)
		if err != nil {
			return "", fmt.Errorf("generate lobby code: %w", err)
		}

		exists, err := s.fabric.RoomExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check room %s: %w", code, err)
		}
		if exists {
			continue
		}

		if err := s.fabric.Join(ctx, code, connID, s.config.Capacity); err != nil {
			if errors.Is(err, fabric.ErrRoomFull) || errors.Is(err, fabric.ErrAlreadyMember) {
				continue
			}
			return "", fmt.Errorf("join room %s: %w", code, err)
		}

		// another creator may have picked the same code concurrently; the
		// first one in keeps it
		ids, err := s.fabric.Members(ctx, code)
		if err != nil {
			s.rollbackJoin(ctx, code, connID)
			return "", fmt.Errorf("list room %s: %w", code, err)
		}
		if len(ids) > 0 && ids[0] == connID {
			return code, nil
		}
		s.rollbackJoin(ctx, code, connID)
	}
	return "", newError(CodeInternal, "could not allocate a lobby code")
}

// JoinLobby adds the caller to an existing open lobby. An empty display name
// reuses the caller's previous one, or a generated one for a first join.
func (s *Service) JoinLobby(ctx context.Context, connID, code, displayName string) error {
	code, err := s.normalizeCode(code)
	if err != nil {
		return err
	}

	m, _, err := s.loadMember(ctx, connID)
	if err != nil {
		return err
	}
	if m.LobbyCode != "" {
		return ErrAlreadyMember
	}

	exists, err := s.fabric.RoomExists(ctx, code)
	if err != nil {
		return fmt.Errorf("check room %s: %w", code, err)
	}
	if !exists {
		return ErrNotFound
	}

	running, err := s.raceRunning(ctx, code)
	if err != nil {
		return err
	}
	if running {
		return ErrInProgress
	}

	roster, err := s.roster(ctx, code)
	if err != nil {
		return err
	}
	name, err := joinName(roster, connID, displayName, m.DisplayName)
	if err != nil {
		return err
	}

	if err := s.fabric.Join(ctx, code, connID, s.config.Capacity); err != nil {
		switch {
		case errors.Is(err, fabric.ErrRoomFull):
			return ErrFull
		case errors.Is(err, fabric.ErrAlreadyMember):
			return ErrAlreadyMember
		}
		return fmt.Errorf("join room %s: %w", code, err)
	}

	seq, err := s.store.Increment(ctx, joinSeqKey)
	if err != nil {
		s.rollbackJoin(ctx, code, connID)
		return fmt.Errorf("next join sequence: %w", err)
	}

	now := s.clock.Now()
	_, err = s.updateMember(ctx, connID, func(m *Member) error {
		m.DisplayName = name
		m.Ready = false
		m.Leader = false
		m.LobbyCode = code
		m.JoinSeq = seq
		m.JoinedAt = now
		return nil
	})
	if err != nil {
		s.rollbackJoin(ctx, code, connID)
		return err
	}

	if err := s.reconcileLeadership(ctx, code); err != nil {
		return err
	}

	log.Info().
		Str("connection_id", connID).
		Str("lobby_code", code).
		Str("display_name", name).
		Msg("member joined lobby")

	return s.broadcastLobby(ctx, code)
}

// joinName picks the name a joiner goes by: the one given, else the one
// from their previous lobby, else a generated one unique in the roster
func joinName(roster []Member, connID, given, previous string) (string, error) {
	taken := func(name string) bool {
		return slices.ContainsFunc(roster, func(other Member) bool {
			return strings.EqualFold(other.DisplayName, name)
		})
	}

	if strings.TrimSpace(given) == "" && strings.TrimSpace(previous) == "" {
		base := defaultNamePrefix + strings.ToUpper(connID[:min(len(connID), 6)])
		name := base
		for n := 2; taken(name); n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		return name, nil
	}

	if strings.TrimSpace(given) == "" {
		given = previous
	}
	name, err := validateDisplayName(given)
	if err != nil {
		return "", err
	}
	if taken(name) {
		return "", newError(CodeValidation, "display name %q is already taken in this lobby", name)
	}
	return name, nil
}

// LeaveLobby removes the caller from the lobby
func (s *Service) LeaveLobby(ctx context.Context, connID, code string) error {
	code, err := s.normalizeCode(code)
	if err != nil {
		return err
	}

	m, _, err := s.loadMember(ctx, connID)
	if err != nil {
		return err
	}
	if m.LobbyCode != code {
		return ErrNotMember
	}

	finished, err := s.depart(ctx, m, code)
	if err != nil {
		return err
	}

	log.Info().
		Str("connection_id", connID).
		Str("lobby_code", code).
		Msg("member left lobby")

	if finished {
		return nil
	}
	return s.broadcastLobby(ctx, code)
}

// KickPlayer lets the leader remove another member. The target is matched by
// connection id when given, otherwise by display name.
func (s *Service) KickPlayer(ctx context.Context, connID, code, targetName, targetID string) error {
	code, err := s.normalizeCode(code)
	if err != nil {
		return err
	}

	caller, _, err := s.loadMember(ctx, connID)
	if err != nil {
		return err
	}
	if caller.LobbyCode != code || !caller.Leader {
		return newError(CodeForbidden, "only the lobby leader can kick players")
	}

	roster, err := s.roster(ctx, code)
	if err != nil {
		return err
	}
	target, ok := resolveTarget(roster, strings.TrimSpace(targetName), strings.TrimSpace(targetID))
	if !ok {
		return newError(CodeForbidden, "no such player in this lobby")
	}
	if target.ConnectionID == connID {
		return newError(CodeForbidden, "cannot kick yourself")
	}

	finished, err := s.depart(ctx, target, code)
	if err != nil {
		return err
	}

	if err := s.send(ctx, target.ConnectionID, events.Kicked, events.KickedPayload{
		LobbyCode:  code,
		TargetName: target.DisplayName,
	}); err != nil {
		log.Warn().Err(err).Str("connection_id", target.ConnectionID).Msg("failed to notify kicked member")
	}

	log.Info().
		Str("connection_id", connID).
		Str("target_id", target.ConnectionID).
		Str("lobby_code", code).
		Msg("member kicked")

	if finished {
		return nil
	}
	return s.broadcastLobby(ctx, code)
}

func resolveTarget(roster []Member, name, id string) (Member, bool) {
	for _, m := range roster {
		if id != "" {
			if m.ConnectionID == id {
				return m, true
			}
			continue
		}
		if name != "" && strings.EqualFold(m.DisplayName, name) {
			return m, true
		}
	}
	return Member{}, false
}

// ToggleReady flips the caller's readiness
func (s *Service) ToggleReady(ctx context.Context, connID, code string) error {
	code, err := s.normalizeCode(code)
	if err != nil {
		return err
	}

	m, _, err := s.loadMember(ctx, connID)
	if err != nil {
		return err
	}
	if m.LobbyCode != code {
		return ErrNotMember
	}

	running, err := s.raceRunning(ctx, code)
	if err != nil {
		return err
	}
	if running {
		return ErrInProgress
	}

	updated, err := s.updateMember(ctx, connID, func(m *Member) error {
		if m.LobbyCode != code {
			return ErrNotMember
		}
		m.Ready = !m.Ready
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("connection_id", connID).
		Str("lobby_code", code).
		Bool("ready", updated.Ready).
		Msg("readiness toggled")

	return s.broadcastLobby(ctx, code)
}

// depart removes m from the room: hand over leadership first, drop the fabric
// membership, clear the record, reconcile, then settle any running race.
// It reports whether the departure finished the race, in which case the
// lobby snapshot has already gone out.
func (s *Service) depart(ctx context.Context, m Member, code string) (bool, error) {
	if m.Leader {
		roster, err := s.roster(ctx, code)
		if err != nil {
			return false, err
		}
		others := make([]Member, 0, len(roster))
		for _, other := range roster {
			if other.ConnectionID != m.ConnectionID {
				others = append(others, other)
			}
		}
		if successor, ok := electSuccessor(others); ok {
			if err := s.promote(ctx, successor.ConnectionID, code); err != nil {
				return false, err
			}
		}
	}

	if err := s.fabric.Leave(ctx, code, m.ConnectionID); err != nil && !errors.Is(err, fabric.ErrNotMember) {
		return false, fmt.Errorf("leave room %s: %w", code, err)
	}

	_, err := s.updateMember(ctx, m.ConnectionID, func(rec *Member) error {
		if rec.LobbyCode != code {
			return errRecordGone
		}
		rec.clearLobby()
		return nil
	})
	if err != nil && !errors.Is(err, errRecordGone) {
		return false, err
	}

	if err := s.reconcileLeadership(ctx, code); err != nil {
		return false, err
	}

	return s.raceDeparture(ctx, code, m.ConnectionID)
}

// rollbackJoin undoes a fabric join after a later step failed
func (s *Service) rollbackJoin(ctx context.Context, code, connID string) {
	if err := s.fabric.Leave(ctx, code, connID); err != nil && !errors.Is(err, fabric.ErrNotMember) {
		log.Error().Err(err).
			Str("connection_id", connID).
			Str("lobby_code", code).
			Msg("failed to roll back room join")
	}
}

// isGone reports errors meaning a record disappeared underneath us
func isGone(err error) bool {
	return errors.Is(err, errRecordGone) || errors.Is(err, state.ErrKeyNotFound)
}
