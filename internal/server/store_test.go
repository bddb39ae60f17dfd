package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreSeedDefaults(t *testing.T) {
	r := require.New(t)
	store := NewStore()
	srv := store.SeedDefaults()

	r.Equal([]ServerRecord{srv}, store.Servers())

	rooms, err := store.RoomsOf(srv.ID)
	r.NoError(err)
	r.Len(rooms, 2)
	r.Equal("general", rooms[0].Name)
	r.Equal("Anything goes", rooms[0].Description)
	r.Equal("random", rooms[1].Name)

	_, err = store.RoomsOf("missing")
	r.ErrorIs(err, ErrServerNotFound)
}

func TestStoreRoomsAreScopedToServer(t *testing.T) {
	r := require.New(t)
	store := NewStore()
	a := store.AddServer("a")
	b := store.AddServer(" b ")
	r.Equal("b", b.Name)

	ra, err := store.AddRoom(a.ID, "one", "")
	r.NoError(err)
	_, err = store.AddRoom(b.ID, "two", "")
	r.NoError(err)
	_, err = store.AddRoom("missing", "three", "")
	r.ErrorIs(err, ErrServerNotFound)

	rooms, err := store.RoomsOf(a.ID)
	r.NoError(err)
	r.Equal([]RoomRecord{ra}, rooms)
}

func TestStoreHistoryIsOrderedAndCopied(t *testing.T) {
	r := require.New(t)
	store := NewStore()
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	srv := store.AddServer("s")
	room, err := store.AddRoom(srv.ID, "r", "")
	r.NoError(err)

	_, err = store.Append(room.ID, "alice", "first")
	r.NoError(err)
	second, err := store.Append(room.ID, "bob", "second")
	r.NoError(err)
	r.Equal(base.Add(2*time.Second), second.CreatedAt)

	_, err = store.Append(room.ID, "alice", "")
	r.ErrorIs(err, ErrEmptyContent)
	_, err = store.Append("missing", "alice", "hi")
	r.ErrorIs(err, ErrRoomNotFound)

	history, err := store.History(room.ID)
	r.NoError(err)
	r.Len(history, 2)
	r.Equal("first", history[0].Content)
	r.Equal("second", history[1].Content)

	history[0].Content = "changed"
	again, err := store.History(room.ID)
	r.NoError(err)
	r.Equal("first", again[0].Content)

	_, err = store.History("missing")
	r.ErrorIs(err, ErrRoomNotFound)
}

func TestStoreMembership(t *testing.T) {
	r := require.New(t)
	store := NewStore()
	seeded := store.SeedDefaults("alice", " bob ")
	other := store.AddServer("other")

	r.True(store.IsMember(seeded.ID, "alice"))
	r.True(store.IsMember(seeded.ID, "bob"))
	r.False(store.IsMember(other.ID, "alice"))

	r.ErrorIs(store.AddMember(seeded.ID, "alice"), ErrAlreadyMember)
	r.ErrorIs(store.AddMember("missing", "alice"), ErrServerNotFound)
	r.Error(store.AddMember(other.ID, "  "))

	r.NoError(store.AddMember(other.ID, "alice"))
	r.Equal([]ServerRecord{seeded, other}, store.ServersOf("alice"))
	r.Equal([]ServerRecord{seeded}, store.ServersOf("bob"))
	r.Empty(store.ServersOf("carol"))
}
