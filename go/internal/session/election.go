package session

import (
	"context"

	"github.com/rs/zerolog/log"
)

// electSuccessor picks the member who joined earliest, breaking ties by the
// lowest connection id
func electSuccessor(candidates []Member) (Member, bool) {
	if len(candidates) == 0 {
		return Member{}, false
	}
	best := candidates[0]
	for _, m := range candidates[1:] {
		if m.JoinSeq < best.JoinSeq || (m.JoinSeq == best.JoinSeq && m.ConnectionID < best.ConnectionID) {
			best = m
		}
	}
	return best, true
}

// reconcileLeadership leaves exactly one leader in a non-empty room. Runs
// after every membership change so concurrent departures converge on the
// same choice.
func (s *Service) reconcileLeadership(ctx context.Context, code string) error {
	roster, err := s.roster(ctx, code)
	if err != nil {
		return err
	}

	var leaders []Member
	for _, m := range roster {
		if m.Leader {
			leaders = append(leaders, m)
		}
	}

	switch {
	case len(roster) == 0 || len(leaders) == 1:
		return nil
	case len(leaders) == 0:
		choice, _ := electSuccessor(roster)
		return s.promote(ctx, choice.ConnectionID, code)
	}

	keep, _ := electSuccessor(leaders)
	for _, m := range leaders {
		if m.ConnectionID == keep.ConnectionID {
			continue
		}
		if err := s.setLeader(ctx, m.ConnectionID, code, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) promote(ctx context.Context, connID, code string) error {
	if err := s.setLeader(ctx, connID, code, true); err != nil {
		return err
	}
	log.Info().
		Str("connection_id", connID).
		Str("lobby_code", code).
		Msg("leader elected")
	return nil
}

// setLeader is a no-op when the member has meanwhile left the room
func (s *Service) setLeader(ctx context.Context, connID, code string, leader bool) error {
	_, err := s.updateMember(ctx, connID, func(m *Member) error {
		if m.LobbyCode != code {
			return errRecordGone
		}
		m.Leader = leader
		return nil
	})
	if isGone(err) {
		return nil
	}
	return err
}
