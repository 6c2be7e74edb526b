package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/state"
)

const (
	memberKeyPrefix = "member."
	raceKeyPrefix   = "race."
	joinSeqKey      = "seq.join"
)

func memberKey(connID string) string { return memberKeyPrefix + connID }
func raceKey(code string) string     { return raceKeyPrefix + code }

// errRecordGone reports that a record vanished between read and write
var errRecordGone = errors.New("record no longer exists")

func (s *Service) loadMember(ctx context.Context, connID string) (Member, uint64, error) {
	entry, err := s.store.Get(ctx, memberKey(connID))
	if err != nil {
		if errors.Is(err, state.ErrKeyNotFound) {
			return Member{}, 0, errRecordGone
		}
		return Member{}, 0, fmt.Errorf("get member %s: %w", connID, err)
	}

	var m Member
	if err := json.Unmarshal(entry.Value, &m); err != nil {
		return Member{}, 0, fmt.Errorf("decode member %s: %w", connID, err)
	}
	return m, entry.Revision, nil
}

// updateMember applies fn to the member record with check-and-set, rereading
// and reapplying on conflict. An error from fn aborts without writing.
func (s *Service) updateMember(ctx context.Context, connID string, fn func(*Member) error) (Member, error) {
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		m, rev, err := s.loadMember(ctx, connID)
		if err != nil {
			return Member{}, err
		}
		if err := fn(&m); err != nil {
			return Member{}, err
		}

		value, err := json.Marshal(m)
		if err != nil {
			return Member{}, fmt.Errorf("encode member %s: %w", connID, err)
		}
		_, err = s.store.Update(ctx, memberKey(connID), value, rev)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, state.ErrRevisionMismatch) {
			return Member{}, fmt.Errorf("update member %s: %w", connID, err)
		}
	}
	return Member{}, fmt.Errorf("update member %s: %w", connID, state.ErrRetriesExhausted)
}

func (s *Service) loadRace(ctx context.Context, code string) (Race, uint64, error) {
	entry, err := s.store.Get(ctx, raceKey(code))
	if err != nil {
		if errors.Is(err, state.ErrKeyNotFound) {
			return Race{}, 0, errRecordGone
		}
		return Race{}, 0, fmt.Errorf("get race %s: %w", code, err)
	}

	var r Race
	if err := json.Unmarshal(entry.Value, &r); err != nil {
		return Race{}, 0, fmt.Errorf("decode race %s: %w", code, err)
	}
	return r, entry.Revision, nil
}

// updateRace is updateMember for race records. A finished race reads as gone.
func (s *Service) updateRace(ctx context.Context, code string, fn func(*Race) error) (Race, error) {
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		r, rev, err := s.loadRace(ctx, code)
		if err != nil {
			return Race{}, err
		}
		if r.Finished {
			return Race{}, errRecordGone
		}
		if err := fn(&r); err != nil {
			return Race{}, err
		}

		value, err := json.Marshal(r)
		if err != nil {
			return Race{}, fmt.Errorf("encode race %s: %w", code, err)
		}
		_, err = s.store.Update(ctx, raceKey(code), value, rev)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, state.ErrRevisionMismatch) {
			return Race{}, fmt.Errorf("update race %s: %w", code, err)
		}
	}
	return Race{}, fmt.Errorf("update race %s: %w", code, state.ErrRetriesExhausted)
}

func (s *Service) createRace(ctx context.Context, r Race) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode race %s: %w", r.LobbyCode, err)
	}
	if _, err := s.store.Create(ctx, raceKey(r.LobbyCode), value); err != nil {
		if errors.Is(err, state.ErrKeyExists) {
			return ErrInProgress
		}
		return fmt.Errorf("create race %s: %w", r.LobbyCode, err)
	}
	return nil
}

// raceRunning reports whether a race record exists for code
func (s *Service) raceRunning(ctx context.Context, code string) (bool, error) {
	_, err := s.store.Get(ctx, raceKey(code))
	if errors.Is(err, state.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get race %s: %w", code, err)
	}
	return true, nil
}
