package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/results"
)

// StartRace moves an all-ready lobby into a race. When someone is not ready
// the whole room is told through raceInit and nothing changes.
func (s *Service) StartRace(ctx context.Context, connID, code string) error {
	code, err := s.normalizeCode(code)
	if err != nil {
		return err
	}

	caller, _, err := s.loadMember(ctx, connID)
	if err != nil {
		return err
	}
	if caller.LobbyCode != code {
		return ErrNotMember
	}
	if !caller.Leader {
		return newError(CodeForbidden, "only the lobby leader can start the race")
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
	if !readyCheck(roster) {
		log.Debug().Str("lobby_code", code).Msg("race start refused, not everyone is ready")
		return s.broadcast(ctx, code, events.RaceInit, events.ErrorPayload{
			Error: events.ErrorBody{
				Code:    string(CodeValidation),
				Message: "not every player is ready",
			},
		})
	}

	text, err := s.prompts.Prompt(ctx)
	if err != nil {
		return fmt.Errorf("select prompt: %w", err)
	}

	race := Race{
		LobbyCode: code,
		Prompt:    text,
		StartedAt: s.clock.Now(),
		Members:   make([]Progress, 0, len(roster)),
	}
	for _, m := range roster {
		race.Members = append(race.Members, Progress{
			ConnectionID: m.ConnectionID,
			DisplayName:  m.DisplayName,
		})
	}
	if err := s.createRace(ctx, race); err != nil {
		return err
	}

	for _, m := range roster {
		_, err := s.updateMember(ctx, m.ConnectionID, func(rec *Member) error {
			if rec.LobbyCode != code {
				return errRecordGone
			}
			rec.Ready = false
			return nil
		})
		if err != nil && !isGone(err) {
			return err
		}
	}

	log.Info().
		Str("lobby_code", code).
		Int("racers", len(race.Members)).
		Msg("race started")

	if err := s.broadcast(ctx, code, events.RaceInit, events.RaceInitPayload{
		LobbyCode: code,
		Prompt:    race.Prompt,
		StartedAt: race.StartedAt,
		Members:   race.standings(),
	}); err != nil {
		return err
	}
	return s.broadcastLobby(ctx, code)
}

func readyCheck(roster []Member) bool {
	if len(roster) == 0 {
		return false
	}
	for _, m := range roster {
		if !m.Ready {
			return false
		}
	}
	return true
}

// LetterTyped records a progress report. Reaching 100% assigns the next
// placement in the same write as the counter increment.
func (s *Service) LetterTyped(ctx context.Context, connID, code string, percentage, speedMetric float64) error {
	if math.IsNaN(percentage) || percentage < 0 || percentage > 100 {
		return newError(CodeValidation, "percentage must be between 0 and 100")
	}
	if math.IsNaN(speedMetric) || math.IsInf(speedMetric, 0) || speedMetric < 0 {
		return newError(CodeValidation, "speed metric must be a non-negative number")
	}
	code, err := s.normalizeCode(code)
	if err != nil {
		return err
	}

	caller, _, err := s.loadMember(ctx, connID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	race, err := s.updateRace(ctx, code, func(r *Race) error {
		p := r.progress(connID)
		if p == nil || caller.LobbyCode != code {
			return newError(CodeNotMember, "not racing in this lobby")
		}
		p.Percentage = percentage
		p.SpeedMetric = speedMetric
		if percentage >= 100 && p.Placement == nil {
			r.PlacementCounter++
			placement := r.PlacementCounter
			finishedAt := now
			p.Placement = &placement
			p.FinishedAt = &finishedAt
		}
		return nil
	})
	if errors.Is(err, errRecordGone) {
		return newError(CodeNotFound, "no race in progress")
	}
	if err != nil {
		return err
	}

	_, err = s.settle(ctx, race)
	return err
}

// raceDeparture drops a departed member's unfinished entry from a running race
func (s *Service) raceDeparture(ctx context.Context, code, connID string) (bool, error) {
	race, err := s.updateRace(ctx, code, func(r *Race) error {
		r.Members = slices.DeleteFunc(r.Members, func(p Progress) bool {
			return p.ConnectionID == connID && p.Placement == nil
		})
		return nil
	})
	if errors.Is(err, errRecordGone) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.settle(ctx, race)
}

// settle broadcasts standings and finishes the race once complete
func (s *Service) settle(ctx context.Context, race Race) (bool, error) {
	complete, err := s.raceComplete(ctx, race)
	if err != nil {
		return false, err
	}

	if err := s.broadcast(ctx, race.LobbyCode, events.UpdateText, events.UpdateTextPayload{
		LobbyCode: race.LobbyCode,
		Members:   race.standings(),
		Complete:  complete,
	}); err != nil {
		return false, err
	}

	if !complete {
		return false, nil
	}
	return true, s.finishRace(ctx, race.LobbyCode)
}

// raceComplete: every participant still in the room has a placement
func (s *Service) raceComplete(ctx context.Context, race Race) (bool, error) {
	ids, err := s.fabric.Members(ctx, race.LobbyCode)
	if err != nil {
		return false, fmt.Errorf("list room %s: %w", race.LobbyCode, err)
	}
	for _, p := range race.Members {
		if p.Placement == nil && slices.Contains(ids, p.ConnectionID) {
			return false, nil
		}
	}
	return true, nil
}

// finishRace claims the race record, records the results and reopens the
// lobby. Only the caller that flips Finished does the work.
func (s *Service) finishRace(ctx context.Context, code string) error {
	race, err := s.updateRace(ctx, code, func(r *Race) error {
		r.Finished = true
		return nil
	})
	if errors.Is(err, errRecordGone) {
		return nil
	}
	if err != nil {
		return err
	}

	finishedAt := s.clock.Now()
	if err := s.recorder.RecordRace(ctx, raceResult(race, finishedAt)); err != nil {
		log.Error().Err(err).Str("lobby_code", code).Msg("failed to record race results")
	}

	if err := s.store.Delete(ctx, raceKey(code)); err != nil {
		return fmt.Errorf("delete race %s: %w", code, err)
	}

	log.Info().
		Str("lobby_code", code).
		Int("placed", race.PlacementCounter).
		Msg("race finished")

	return s.broadcastLobby(ctx, code)
}

func raceResult(race Race, finishedAt time.Time) results.Race {
	standings := make([]results.Standing, 0, len(race.Members))
	for _, p := range race.Members {
		standings = append(standings, results.Standing{
			ConnectionID: p.ConnectionID,
			DisplayName:  p.DisplayName,
			Placement:    p.Placement,
			Percentage:   p.Percentage,
			SpeedMetric:  p.SpeedMetric,
			FinishedAt:   p.FinishedAt,
		})
	}
	return results.Race{
		ID:         uuid.New(),
		LobbyCode:  race.LobbyCode,
		Prompt:     race.Prompt,
		StartedAt:  race.StartedAt,
		FinishedAt: finishedAt,
		Standings:  standings,
	}
}
