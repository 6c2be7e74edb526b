package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/fabric"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/prompt"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/results"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/state"
)

const testPrompt = "the quick brown fox jumps over the lazy dog"

// inbox treats every connection as local and records what it was sent
type inbox struct {
	mu       sync.Mutex
	received map[string][]fabric.Message
}

func (in *inbox) Deliver(connID string, msg fabric.Message) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.received[connID] = append(in.received[connID], msg)
	return true
}

func (in *inbox) total() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, msgs := range in.received {
		n += len(msgs)
	}
	return n
}

func (in *inbox) events(connID, event string) []fabric.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	var out []fabric.Message
	for _, m := range in.received[connID] {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	svc      *Service
	store    *state.MemoryStore
	fabric   *fabric.MemoryFabric
	inbox    *inbox
	clock    *clockwork.FakeClock
	recorder *results.MemoryRecorder
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()

	in := &inbox{received: make(map[string][]fabric.Message)}
	h := &harness{
		store:    state.NewMemoryStore(),
		fabric:   fabric.NewMemoryFabric(in),
		inbox:    in,
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		recorder: &results.MemoryRecorder{},
	}
	h.svc = NewService(Deps{
		Store:    h.store,
		Fabric:   h.fabric,
		Prompts:  prompt.NewStaticProvider([]string{testPrompt}),
		Recorder: h.recorder,
		Clock:    h.clock,
		Config:   config,
	})
	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) connect(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, h.svc.Connect(testContext(t), id))
	}
}

// lobby connects everyone, has the first create a lobby and the rest join it.
// Display names equal connection ids.
func (h *harness) lobby(t *testing.T, ids ...string) string {
	t.Helper()
	ctx := testContext(t)
	h.connect(t, ids...)

	code, err := h.svc.CreateLobby(ctx, ids[0], ids[0])
	require.NoError(t, err)
	for _, id := range ids[1:] {
		require.NoError(t, h.svc.JoinLobby(ctx, id, code, id))
	}
	return code
}

// race readies everyone and starts a race led by ids[0]
func (h *harness) race(t *testing.T, ids ...string) string {
	t.Helper()
	ctx := testContext(t)
	code := h.lobby(t, ids...)
	for _, id := range ids {
		require.NoError(t, h.svc.ToggleReady(ctx, id, code))
	}
	require.NoError(t, h.svc.StartRace(ctx, ids[0], code))
	return code
}

func (h *harness) member(t *testing.T, id string) Member {
	t.Helper()
	m, _, err := h.svc.loadMember(testContext(t), id)
	require.NoError(t, err)
	return m
}

func (h *harness) raceRecord(t *testing.T, code string) Race {
	t.Helper()
	r, _, err := h.svc.loadRace(testContext(t), code)
	require.NoError(t, err)
	return r
}

func (h *harness) snapshot(t *testing.T, code string) events.LobbyUpdatePayload {
	t.Helper()
	snap, err := h.svc.snapshot(testContext(t), code)
	require.NoError(t, err)
	return snap
}

// assertOneLeader checks the leadership invariant for a non-empty lobby
func (h *harness) assertOneLeader(t *testing.T, code string) {
	t.Helper()
	snap := h.snapshot(t, code)
	if len(snap.Members) == 0 {
		return
	}
	leaders := 0
	for _, m := range snap.Members {
		if m.Leader {
			leaders++
		}
	}
	require.Equal(t, 1, leaders, "lobby %s should have exactly one leader", code)
}

func decodeLast[T any](t *testing.T, in *inbox, connID, event string) T {
	t.Helper()
	msgs := in.events(connID, event)
	require.NotEmpty(t, msgs, "%s never received %s", connID, event)

	var payload T
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Data, &payload))
	return payload
}

func memberNames(snap events.LobbyUpdatePayload) []string {
	names := make([]string, 0, len(snap.Members))
	for _, m := range snap.Members {
		names = append(names, m.DisplayName)
	}
	return names
}

// failingLeaveFabric fails every Leave
type failingLeaveFabric struct {
	fabric.Fabric
	err error
}

func (f *failingLeaveFabric) Leave(ctx context.Context, room, connID string) error {
	return f.err
}
