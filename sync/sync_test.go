package sync

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanmorn/fool-stone/engine"
	"github.com/ivanmorn/fool-stone/protocol"
	"github.com/ivanmorn/fool-stone/relay"
	"github.com/ivanmorn/fool-stone/room"
)

var gameNames = []string{"ann", "ben", "cat", "dan", "eve"}

const (
	pollWindow = 3 * time.Second
	pollTick   = 10 * time.Millisecond
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestHandleStateFull(t *testing.T) {
	t.Parallel()

	base := func(t *testing.T) (*Client, *engine.Game) {
		t.Helper()
		g, err := engine.NewGame(gameNames, "statefull-seed", 10)
		require.NoError(t, err)
		return &Client{session: "me"}, g
	}

	deliver := func(t *testing.T, c *Client, ev protocol.StateFullEvent) {
		t.Helper()
		c.handleStateFull(mustJSON(t, ev))
	}

	t.Run("adopts a strictly newer snapshot", func(t *testing.T) {
		c, g := base(t)
		raw, err := g.Snapshot(3).Encode()
		require.NoError(t, err)
		deliver(t, c, protocol.StateFullEvent{Snapshot: raw, From: "host"})

		assert.Equal(t, uint64(3), c.Version())
		require.NotNil(t, c.Game())
		assert.Empty(t, cmp.Diff(g, c.Game()))
	})

	t.Run("drops an equal or older version", func(t *testing.T) {
		c, g := base(t)
		raw, err := g.Snapshot(3).Encode()
		require.NoError(t, err)
		deliver(t, c, protocol.StateFullEvent{Snapshot: raw, From: "host"})

		other, err := engine.NewGame(gameNames, "different-seed", 10)
		require.NoError(t, err)
		stale, err := other.Snapshot(3).Encode()
		require.NoError(t, err)
		deliver(t, c, protocol.StateFullEvent{Snapshot: stale, From: "host"})
		older, err := other.Snapshot(2).Encode()
		require.NoError(t, err)
		deliver(t, c, protocol.StateFullEvent{Snapshot: older, From: "host"})

		assert.Equal(t, uint64(3), c.Version())
		assert.Empty(t, cmp.Diff(g, c.Game()), "the first snapshot must survive")
	})

	t.Run("ignores snapshots addressed to someone else", func(t *testing.T) {
		c, g := base(t)
		raw, err := g.Snapshot(5).Encode()
		require.NoError(t, err)
		deliver(t, c, protocol.StateFullEvent{Snapshot: raw, From: "host", Target: "other"})
		assert.Zero(t, c.Version())
		assert.Nil(t, c.Game())
	})

	t.Run("ignores its own echo", func(t *testing.T) {
		c, g := base(t)
		raw, err := g.Snapshot(5).Encode()
		require.NoError(t, err)
		deliver(t, c, protocol.StateFullEvent{Snapshot: raw, From: "me"})
		assert.Zero(t, c.Version())
	})
}

func TestSeatDefaults(t *testing.T) {
	t.Parallel()
	c := &Client{users: []room.Participant{
		{SessionID: "s2", Seat: 2, Name: "ben"},
		{SessionID: "s1", Seat: 1, Name: "ann"},
	}}

	assert.Equal(t, []string{"ann", "ben", "Seat 3", "Seat 4", "Seat 5"}, c.seatNamesLocked())
	assert.Equal(t, "P2", c.playerIDForLocked("s2"))
	assert.Equal(t, "", c.playerIDForLocked("nobody"))
}

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("newGame builds the engine", func(t *testing.T) {
		c := &Client{}
		err := c.apply("newGame", mustJSON(t, newGamePayload{Names: gameNames, Threshold: 10, Seed: "unit-seed"}), "host")
		require.NoError(t, err)
		require.NotNil(t, c.game)
		assert.Equal(t, "unit-seed", c.game.Seed)
	})

	t.Run("game actions need a game", func(t *testing.T) {
		c := &Client{}
		err := c.apply("pick", mustJSON(t, flaskPayload{No: 1}), "host")
		assert.Error(t, err)
	})

	t.Run("unknown intents are rejected", func(t *testing.T) {
		c := &Client{}
		require.NoError(t, c.apply("newGame", mustJSON(t, newGamePayload{Names: gameNames, Seed: "s", Threshold: 10}), "host"))
		err := c.apply("bogus", nil, "host")
		assert.Error(t, err)
	})
}

// --- end to end over a live relay -------------------------------------------

func startRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := room.NewRegistry()
	s := relay.NewServer(reg, zerolog.Nop())
	go s.Run()
	t.Cleanup(s.Shutdown)

	r := gin.New()
	relay.NewHandler(s, nil).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialClient(t *testing.T, url, session, name string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, session, name, WithAckTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func lowestFlask(g *engine.Game) int {
	best := 0
	for no := range g.Flasks {
		if best == 0 || no < best {
			best = no
		}
	}
	return best
}

func TestReplication(t *testing.T) {
	url := startRelay(t)

	host := dialClient(t, url, "host-sess", "ann")
	code, err := host.CreateRoom()
	require.NoError(t, err)
	require.True(t, host.IsHost())

	guest := dialClient(t, url, "guest-sess", "ben")
	require.NoError(t, guest.JoinRoom(code))
	require.False(t, guest.IsHost())

	t.Run("the host's new game reaches the guest", func(t *testing.T) {
		require.NoError(t, host.NewGame(gameNames, 10, "e2e-seed"))
		require.NotNil(t, host.Game())
		assert.Equal(t, uint64(1), host.Version())

		require.Eventually(t, func() bool {
			return guest.Game() != nil && guest.Version() == host.Version()
		}, pollWindow, pollTick)
		assert.Empty(t, cmp.Diff(host.Game(), guest.Game()))
	})

	t.Run("a guest intent loops through the host", func(t *testing.T) {
		no := lowestFlask(guest.Game())
		require.NoError(t, guest.Discard(no))

		require.Eventually(t, func() bool {
			g := guest.Game()
			return g != nil && len(g.Discarded) == 1
		}, pollWindow, pollTick)
		assert.Equal(t, no, guest.Game().Discarded[0])
		assert.Equal(t, host.Version(), guest.Version())
	})

	t.Run("a late joiner is caught up by a targeted resync", func(t *testing.T) {
		late := dialClient(t, url, "late-sess", "cat")
		require.NoError(t, late.JoinRoom(code))

		require.Eventually(t, func() bool {
			return late.Game() != nil && late.Version() == host.Version()
		}, pollWindow, pollTick)
		assert.Empty(t, cmp.Diff(host.Game(), late.Game()))
	})

	t.Run("closing the room clears every view", func(t *testing.T) {
		require.NoError(t, host.CloseRoom())
		require.Eventually(t, func() bool {
			return guest.RoomCode() == ""
		}, pollWindow, pollTick)
	})
}

func TestSessionRejoin(t *testing.T) {
	url := startRelay(t)

	host := dialClient(t, url, "host-sess", "ann")
	code, err := host.CreateRoom()
	require.NoError(t, err)

	guest := dialClient(t, url, "guest-sess", "ben")
	require.NoError(t, guest.JoinRoom(code))
	require.NoError(t, host.NewGame(gameNames, 10, "rejoin-seed"))

	require.Eventually(t, func() bool { return guest.Game() != nil }, pollWindow, pollTick)
	guest.Close()

	// The same session reconnects and recovers both its seat and the state.
	back := dialClient(t, url, "guest-sess", "ben")
	require.Eventually(t, func() bool {
		return back.JoinRoom(code) == nil
	}, pollWindow, pollTick)

	require.Eventually(t, func() bool {
		return back.Game() != nil && back.Version() == host.Version()
	}, pollWindow, pollTick)

	for _, u := range back.Users() {
		if u.SessionID == "guest-sess" {
			assert.Equal(t, 2, u.Seat)
		}
	}
}

func TestHostMigration(t *testing.T) {
	url := startRelay(t)

	host := dialClient(t, url, "host-sess", "ann")
	code, err := host.CreateRoom()
	require.NoError(t, err)

	guest := dialClient(t, url, "guest-sess", "ben")
	require.NoError(t, guest.JoinRoom(code))
	require.NoError(t, host.NewGame(gameNames, 10, "migrate-seed"))
	require.Eventually(t, func() bool { return guest.Game() != nil }, pollWindow, pollTick)

	host.Close()

	require.Eventually(t, guest.IsHost, pollWindow, pollTick)

	// The promoted guest now applies actions locally and publishes them.
	before := guest.Version()
	no := lowestFlask(guest.Game())
	require.NoError(t, guest.Discard(no))

	assert.Equal(t, before+1, guest.Version())
	assert.Len(t, guest.Game().Discarded, 1)
}
