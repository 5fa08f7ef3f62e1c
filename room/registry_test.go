package room

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	t.Parallel()

	t.Run("seats the creator as host on seat one", func(t *testing.T) {
		reg := NewRegistry()
		r, p, err := reg.Create("sess-a", "ann")
		require.NoError(t, err)

		assert.Len(t, r.Code, 4)
		assert.GreaterOrEqual(t, r.Code, "1000")
		assert.LessOrEqual(t, r.Code, "9999")
		assert.Equal(t, "sess-a", r.HostSession)
		assert.Equal(t, 1, p.Seat)
		assert.True(t, p.IsHost)
		assert.True(t, p.Online)
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("codes are unique", func(t *testing.T) {
		reg := NewRegistry()
		seen := map[string]bool{}
		for i := 0; i < 50; i++ {
			r, _, err := reg.Create(fmt.Sprintf("sess-%d", i), "x")
			require.NoError(t, err)
			require.False(t, seen[r.Code], "code %s issued twice", r.Code)
			seen[r.Code] = true
		}
	})

	t.Run("gives up when the code space is exhausted", func(t *testing.T) {
		reg := NewRegistry()
		reg.codeFn = func() string { return "1234" }

		_, _, err := reg.Create("sess-a", "ann")
		require.NoError(t, err)
		_, _, err = reg.Create("sess-b", "ben")
		assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	})
}

func TestJoin(t *testing.T) {
	t.Parallel()

	t.Run("unknown code", func(t *testing.T) {
		reg := NewRegistry()
		_, _, err := reg.Join("0000", "sess-a", "ann")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("assigns the lowest free seat", func(t *testing.T) {
		reg := NewRegistry()
		r, _, err := reg.Create("sess-a", "ann")
		require.NoError(t, err)

		_, p2, err := reg.Join(r.Code, "sess-b", "ben")
		require.NoError(t, err)
		assert.Equal(t, 2, p2.Seat)
		assert.False(t, p2.IsHost)

		_, p3, err := reg.Join(r.Code, "sess-c", "cat")
		require.NoError(t, err)
		assert.Equal(t, 3, p3.Seat)
	})

	t.Run("rejoin is idempotent and keeps the seat", func(t *testing.T) {
		reg := NewRegistry()
		r, _, err := reg.Create("sess-a", "ann")
		require.NoError(t, err)
		_, p2, err := reg.Join(r.Code, "sess-b", "ben")
		require.NoError(t, err)

		again, p2b, err := reg.Join(r.Code, "sess-b", "benjamin")
		require.NoError(t, err)
		assert.Same(t, r, again)
		assert.Equal(t, p2.Seat, p2b.Seat)
		assert.Equal(t, p2.ID, p2b.ID)
		assert.Equal(t, "benjamin", p2b.Name)
		assert.Len(t, r.Users(), 2)
	})

	t.Run("rejects a sixth session", func(t *testing.T) {
		reg := NewRegistry()
		r, _, err := reg.Create("sess-1", "a")
		require.NoError(t, err)
		for i := 2; i <= MaxSeats; i++ {
			_, _, err := reg.Join(r.Code, fmt.Sprintf("sess-%d", i), "x")
			require.NoError(t, err)
		}
		_, _, err = reg.Join(r.Code, "sess-6", "late")
		assert.ErrorIs(t, err, ErrRoomFull)
	})
}

func TestUsers(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	r, _, err := reg.Create("sess-a", "ann")
	require.NoError(t, err)
	_, _, err = reg.Join(r.Code, "sess-b", "ben")
	require.NoError(t, err)
	_, _, err = reg.Join(r.Code, "sess-c", "cat")
	require.NoError(t, err)

	users := r.Users()
	require.Len(t, users, 3)
	for i, u := range users {
		assert.Equal(t, i+1, u.Seat, "users must come out seat-sorted")
	}
	assert.True(t, users[0].IsHost)
	assert.False(t, users[1].IsHost)

	// Host flags follow the room, not the stored seats.
	reg.TransferHost(r.Code, "sess-b")
	users = r.Users()
	assert.False(t, users[0].IsHost)
	assert.True(t, users[1].IsHost)
}

func TestMarkOffline(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*Registry, *Room) {
		t.Helper()
		reg := NewRegistry()
		r, _, err := reg.Create("sess-a", "ann")
		require.NoError(t, err)
		_, _, err = reg.Join(r.Code, "sess-b", "ben")
		require.NoError(t, err)
		_, _, err = reg.Join(r.Code, "sess-c", "cat")
		require.NoError(t, err)
		return reg, r
	}

	t.Run("a guest drop keeps the seat and the host", func(t *testing.T) {
		reg, r := setup(t)
		hostChanged, dead := reg.MarkOffline(r.Code, "sess-b")
		assert.False(t, hostChanged)
		assert.False(t, dead)
		assert.Equal(t, "sess-a", r.HostSession)

		p, ok := r.Participant("sess-b")
		require.True(t, ok)
		assert.False(t, p.Online)
		assert.Equal(t, 2, p.Seat)
	})

	t.Run("a host drop promotes the lowest online seat", func(t *testing.T) {
		reg, r := setup(t)
		hostChanged, dead := reg.MarkOffline(r.Code, "sess-a")
		assert.True(t, hostChanged)
		assert.False(t, dead)
		assert.Equal(t, "sess-b", r.HostSession)
	})

	t.Run("promotion skips offline seats", func(t *testing.T) {
		reg, r := setup(t)
		reg.MarkOffline(r.Code, "sess-b")
		hostChanged, _ := reg.MarkOffline(r.Code, "sess-a")
		assert.True(t, hostChanged)
		assert.Equal(t, "sess-c", r.HostSession)
	})

	t.Run("the last drop deletes the room", func(t *testing.T) {
		reg, r := setup(t)
		reg.MarkOffline(r.Code, "sess-b")
		reg.MarkOffline(r.Code, "sess-c")
		_, dead := reg.MarkOffline(r.Code, "sess-a")
		assert.True(t, dead)
		assert.Equal(t, 0, reg.Len())
		_, ok := reg.Get(r.Code)
		assert.False(t, ok)
	})

	t.Run("unknown room or session is a no-op", func(t *testing.T) {
		reg, r := setup(t)
		hostChanged, dead := reg.MarkOffline("0000", "sess-a")
		assert.False(t, hostChanged)
		assert.False(t, dead)
		hostChanged, dead = reg.MarkOffline(r.Code, "sess-x")
		assert.False(t, hostChanged)
		assert.False(t, dead)
	})

	t.Run("a returning session takes its seat back", func(t *testing.T) {
		reg, r := setup(t)
		reg.MarkOffline(r.Code, "sess-b")
		_, p, err := reg.Join(r.Code, "sess-b", "ben")
		require.NoError(t, err)
		assert.True(t, p.Online)
		assert.Equal(t, 2, p.Seat)
	})
}

func TestClose(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	r, _, err := reg.Create("sess-a", "ann")
	require.NoError(t, err)
	reg.Close(r.Code)
	assert.Equal(t, 0, reg.Len())
}
