package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreateLobby(t *testing.T) {
	t.Run("creator becomes leader", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		h.connect(t, "c1")

		code, err := h.svc.CreateLobby(ctx, "c1", "  alice  ")
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)

		m := h.member(t, "c1")
		assert.Equal(t, code, m.LobbyCode)
		assert.Equal(t, "alice", m.DisplayName)
		assert.True(t, m.Leader)
		assert.False(t, m.Ready)
		assert.True(t, h.clock.Now().Equal(m.JoinedAt))

		update := decodeLast[events.LobbyUpdatePayload](t, h.inbox, "c1", events.LobbyUpdate)
		assert.Equal(t, code, update.LobbyCode)
		assert.Equal(t, string(StatusOpen), update.Status)
		assert.Equal(t, 8, update.Capacity)
		require.Len(t, update.Members, 1)
		assert.True(t, update.Members[0].Leader)
	})

	t.Run("rejects caller already in a lobby", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.lobby(t, "c1")

		_, err := h.svc.CreateLobby(testContext(t), "c1", "c1")
		assert.ErrorIs(t, err, ErrAlreadyMember)
	})

	t.Run("validates display name", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.connect(t, "c1")

		for _, name := range []string{"", "   ", "abcdefghijklmnopqrstuvwxyz"} {
			_, err := h.svc.CreateLobby(testContext(t), "c1", name)
			assert.ErrorIs(t, err, ErrValidation, "name %q", name)
		}
		assert.Empty(t, h.member(t, "c1").LobbyCode)
	})

	t.Run("retries codes that are taken", func(t *testing.T) {
		h := newHarness(t, Config{})
		taken := h.lobby(t, "c1")
		h.connect(t, "c2")

		codes := []string{taken, taken, "NEW123"}
		h.svc.newCode = func(int) (string, error) {
			c := codes[0]
			codes = codes[1:]
			return c, nil
		}

		code, err := h.svc.CreateLobby(testContext(t), "c2", "c2")
		require.NoError(t, err)
		assert.Equal(t, "NEW123", code)
		assert.Equal(t, []string{"c1"}, memberNames(h.snapshot(t, taken)))
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		h := newHarness(t, Config{MaxRetries: 3})
		taken := h.lobby(t, "c1")
		h.connect(t, "c2")
		h.svc.newCode = func(int) (string, error) { return taken, nil }

		_, err := h.svc.CreateLobby(testContext(t), "c2", "c2")
		assert.ErrorIs(t, err, ErrInternal)
		assert.Empty(t, h.member(t, "c2").LobbyCode)
	})
}

func TestJoinLobby(t *testing.T) {
	t.Run("unknown code changes nothing", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.lobby(t, "c1")
		h.connect(t, "c2")
		before := h.inbox.total()

		err := h.svc.JoinLobby(testContext(t), "c2", "ZZZZZZ", "bob")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, before, h.inbox.total())
		assert.Equal(t, Member{ConnectionID: "c2"}, h.member(t, "c2"))
	})

	t.Run("joiner is a follower and everyone sees the update", func(t *testing.T) {
		h := newHarness(t, Config{})
		code := h.lobby(t, "c1", "c2")

		m := h.member(t, "c2")
		assert.Equal(t, code, m.LobbyCode)
		assert.False(t, m.Leader)
		assert.Greater(t, m.JoinSeq, h.member(t, "c1").JoinSeq)

		for _, id := range []string{"c1", "c2"} {
			update := decodeLast[events.LobbyUpdatePayload](t, h.inbox, id, events.LobbyUpdate)
			assert.Equal(t, []string{"c1", "c2"}, memberNames(update))
		}
		h.assertOneLeader(t, code)
	})

	t.Run("lowercase code accepted", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.svc.newCode = func(int) (string, error) { return "ABC123", nil }
		h.lobby(t, "c1")
		h.connect(t, "c2")

		require.NoError(t, h.svc.JoinLobby(testContext(t), "c2", " abc123 ", "c2"))
		assert.Equal(t, "ABC123", h.member(t, "c2").LobbyCode)
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name    string
			code    func(h *harness, code string) string
			display string
			setup   func(t *testing.T, h *harness, code string)
			want    error
		}{
			{
				name:    "malformed code",
				code:    func(*harness, string) string { return "AB-1" },
				display: "bob",
				want:    ErrValidation,
			},
			{
				name:    "name too long",
				display: strings.Repeat("x", maxDisplayNameLen+1),
				want:    ErrValidation,
			},
			{
				name:    "duplicate name",
				display: "C1",
				want:    ErrValidation,
			},
			{
				name:    "already in this lobby",
				display: "bob",
				setup: func(t *testing.T, h *harness, code string) {
					require.NoError(t, h.svc.JoinLobby(testContext(t), "c9", code, "bob"))
				},
				want: ErrAlreadyMember,
			},
			{
				name:    "already in another lobby",
				display: "bob",
				setup: func(t *testing.T, h *harness, code string) {
					_, err := h.svc.CreateLobby(testContext(t), "c9", "bob")
					require.NoError(t, err)
				},
				want: ErrAlreadyMember,
			},
			{
				name:    "race in progress",
				display: "bob",
				setup: func(t *testing.T, h *harness, code string) {
					ctx := testContext(t)
					require.NoError(t, h.svc.ToggleReady(ctx, "c1", code))
					require.NoError(t, h.svc.StartRace(ctx, "c1", code))
				},
				want: ErrInProgress,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t, Config{})
				code := h.lobby(t, "c1")
				h.connect(t, "c9")
				if tt.setup != nil {
					tt.setup(t, h, code)
				}
				target := code
				if tt.code != nil {
					target = tt.code(h, code)
				}

				err := h.svc.JoinLobby(testContext(t), "c9", target, tt.display)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("full lobby", func(t *testing.T) {
		h := newHarness(t, Config{Capacity: 2})
		code := h.lobby(t, "c1", "c2")
		h.connect(t, "c3")

		err := h.svc.JoinLobby(testContext(t), "c3", code, "c3")
		assert.ErrorIs(t, err, ErrFull)
		assert.Empty(t, h.member(t, "c3").LobbyCode)
		assert.Len(t, h.snapshot(t, code).Members, 2)
	})

	t.Run("nameless join of unknown code is not found", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.lobby(t, "c1")
		h.connect(t, "c2")
		before := h.inbox.total()

		err := h.svc.JoinLobby(testContext(t), "c2", "ZZZZZZ", "")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, before, h.inbox.total())
		assert.Equal(t, Member{ConnectionID: "c2"}, h.member(t, "c2"))
	})

	t.Run("first nameless join gets a generated name", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		code := h.lobby(t, "c1")
		h.connect(t, "c2")

		require.NoError(t, h.svc.JoinLobby(ctx, "c2", code, ""))
		m := h.member(t, "c2")
		assert.Equal(t, code, m.LobbyCode)
		assert.Equal(t, "Racer-C2", m.DisplayName)

		update := decodeLast[events.LobbyUpdatePayload](t, h.inbox, "c1", events.LobbyUpdate)
		assert.Equal(t, []string{"c1", "Racer-C2"}, memberNames(update))
	})

	t.Run("generated name stays unique in the lobby", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		h.connect(t, "c1", "c9")
		code, err := h.svc.CreateLobby(ctx, "c1", "racer-c9")
		require.NoError(t, err)

		require.NoError(t, h.svc.JoinLobby(ctx, "c9", code, ""))
		assert.Equal(t, "Racer-C9-2", h.member(t, "c9").DisplayName)
	})

	t.Run("omitted name reuses previous one", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		code := h.lobby(t, "c1", "c2")
		require.NoError(t, h.svc.LeaveLobby(ctx, "c2", code))

		require.NoError(t, h.svc.JoinLobby(ctx, "c2", code, ""))
		assert.Equal(t, "c2", h.member(t, "c2").DisplayName)
	})

	t.Run("concurrent joins respect capacity", func(t *testing.T) {
		h := newHarness(t, Config{Capacity: 8})
		code := h.lobby(t, "host")

		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			id := fmt.Sprintf("p%02d", i)
			h.connect(t, id)
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := h.svc.JoinLobby(testContext(t), id, code, id)
				if err != nil {
					assert.ErrorIs(t, err, ErrFull)
				}
			}()
		}
		wg.Wait()

		snap := h.snapshot(t, code)
		assert.Len(t, snap.Members, 8)
		h.assertOneLeader(t, code)
		assert.True(t, h.member(t, "host").Leader)
	})
}

func TestLeaveLobby(t *testing.T) {
	t.Run("leader hands over to earliest joiner", func(t *testing.T) {
		h := newHarness(t, Config{})
		code := h.lobby(t, "X", "Y", "Z")

		require.NoError(t, h.svc.LeaveLobby(testContext(t), "X", code))

		assert.True(t, h.member(t, "Y").Leader)
		assert.False(t, h.member(t, "Z").Leader)

		x := h.member(t, "X")
		assert.Empty(t, x.LobbyCode)
		assert.False(t, x.Leader)

		update := decodeLast[events.LobbyUpdatePayload](t, h.inbox, "Z", events.LobbyUpdate)
		assert.Equal(t, []string{"Y", "Z"}, memberNames(update))
		assert.True(t, update.Members[0].Leader)
		assert.False(t, update.Members[1].Leader)
	})

	t.Run("follower leaves", func(t *testing.T) {
		h := newHarness(t, Config{})
		code := h.lobby(t, "c1", "c2")

		require.NoError(t, h.svc.LeaveLobby(testContext(t), "c2", code))
		assert.True(t, h.member(t, "c1").Leader)
		assert.Equal(t, []string{"c1"}, memberNames(h.snapshot(t, code)))
	})

	t.Run("last member empties the lobby", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		code := h.lobby(t, "c1")

		require.NoError(t, h.svc.LeaveLobby(ctx, "c1", code))

		_, err := h.svc.Lobby(ctx, code)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("non member", func(t *testing.T) {
		h := newHarness(t, Config{})
		code := h.lobby(t, "c1")
		h.connect(t, "c2")

		assert.ErrorIs(t, h.svc.LeaveLobby(testContext(t), "c2", code), ErrNotMember)
	})
}

func TestKickPlayer(t *testing.T) {
	t.Run("by name", func(t *testing.T) {
		h := newHarness(t, Config{})
		code := h.lobby(t, "c1", "c2", "c3")

		require.NoError(t, h.svc.KickPlayer(testContext(t), "c1", code, "C2", ""))

		kicked := decodeLast[events.KickedPayload](t, h.inbox, "c2", events.Kicked)
		assert.Equal(t, code, kicked.LobbyCode)
		assert.Equal(t, "c2", kicked.TargetName)
		assert.Empty(t, h.member(t, "c2").LobbyCode)

		update := decodeLast[events.LobbyUpdatePayload](t, h.inbox, "c3", events.LobbyUpdate)
		assert.Equal(t, []string{"c1", "c3"}, memberNames(update))
		h.assertOneLeader(t, code)
	})

	t.Run("by id wins over name", func(t *testing.T) {
		h := newHarness(t, Config{})
		code := h.lobby(t, "c1", "c2", "c3")

		require.NoError(t, h.svc.KickPlayer(testContext(t), "c1", code, "c2", "c3"))
		assert.Equal(t, []string{"c1", "c2"}, memberNames(h.snapshot(t, code)))
	})

	t.Run("forbidden", func(t *testing.T) {
		tests := []struct {
			name             string
			caller           string
			targetName, toID string
		}{
			{name: "not leader", caller: "c2", targetName: "c3"},
			{name: "self", caller: "c1", targetName: "c1"},
			{name: "self by id", caller: "c1", toID: "c1"},
			{name: "unknown target", caller: "c1", targetName: "nobody"},
			{name: "no target", caller: "c1"},
			{name: "outsider", caller: "c9", targetName: "c2"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t, Config{})
				code := h.lobby(t, "c1", "c2", "c3")
				h.connect(t, "c9")

				err := h.svc.KickPlayer(testContext(t), tt.caller, code, tt.targetName, tt.toID)
				assert.ErrorIs(t, err, ErrForbidden)
				assert.Len(t, h.snapshot(t, code).Members, 3)
			})
		}
	})
}

func TestToggleReady(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)
	code := h.lobby(t, "c1", "c2")
	h.connect(t, "c3")

	require.NoError(t, h.svc.ToggleReady(ctx, "c2", code))
	assert.True(t, h.member(t, "c2").Ready)

	update := decodeLast[events.LobbyUpdatePayload](t, h.inbox, "c1", events.LobbyUpdate)
	assert.True(t, update.Members[1].Ready)

	require.NoError(t, h.svc.ToggleReady(ctx, "c2", code))
	assert.False(t, h.member(t, "c2").Ready)

	assert.ErrorIs(t, h.svc.ToggleReady(ctx, "c3", code), ErrNotMember)
}

func TestDisconnect(t *testing.T) {
	t.Run("leader drop elects successor and deletes record", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		code := h.lobby(t, "c1", "c2", "c3")

		require.NoError(t, h.svc.Disconnect(ctx, "c1"))

		_, _, err := h.svc.loadMember(ctx, "c1")
		assert.ErrorIs(t, err, errRecordGone)
		assert.True(t, h.member(t, "c2").Leader)
		assert.Equal(t, []string{"c2", "c3"}, memberNames(h.snapshot(t, code)))
		h.assertOneLeader(t, code)
	})

	t.Run("unknown connection is ignored", func(t *testing.T) {
		h := newHarness(t, Config{})
		assert.NoError(t, h.svc.Disconnect(testContext(t), "ghost"))
	})

	t.Run("record is deleted even when leaving fails", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		h.lobby(t, "c1", "c2")
		h.svc.fabric = &failingLeaveFabric{Fabric: h.fabric, err: errors.New("fabric unavailable")}

		err := h.svc.Disconnect(ctx, "c2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fabric unavailable")

		_, _, err = h.svc.loadMember(ctx, "c2")
		assert.ErrorIs(t, err, errRecordGone)
	})

	t.Run("record is deleted after the handler deadline passed", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.lobby(t, "c1", "c2")

		ctx, cancel := context.WithCancel(testContext(t))
		cancel()
		assert.Error(t, h.svc.Disconnect(ctx, "c2"))

		_, _, err := h.svc.loadMember(testContext(t), "c2")
		assert.ErrorIs(t, err, errRecordGone)
	})

	t.Run("lobby-less member", func(t *testing.T) {
		h := newHarness(t, Config{})
		ctx := testContext(t)
		h.connect(t, "c1")

		require.NoError(t, h.svc.Disconnect(ctx, "c1"))
		_, _, err := h.svc.loadMember(ctx, "c1")
		assert.ErrorIs(t, err, errRecordGone)
	})
}

func TestLobbySnapshot(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)
	code := h.lobby(t, "c1", "c2")

	snap, err := h.svc.Lobby(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, code, snap.LobbyCode)
	assert.Equal(t, string(StatusOpen), snap.Status)
	assert.Equal(t, []string{"c1", "c2"}, memberNames(snap))

	_, err = h.svc.Lobby(ctx, "bad")
	assert.ErrorIs(t, err, ErrValidation)
}
