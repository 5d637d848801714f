package roster

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Mmx233/QTalk/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type countingSender struct {
	mu   sync.Mutex
	sent []protocol.Packet
	fail bool
}

func (s *countingSender) Send(p protocol.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false
	}
	s.sent = append(s.sent, p)
	return true
}

func newRoster() *Roster {
	return New("General", zerolog.Nop())
}

func TestRoster_AddAndRemove(t *testing.T) {
	r := newRoster()
	m, err := r.Add("alice", &countingSender{})
	require.NoError(t, err)
	assert.Equal(t, "General", m.Room())
	assert.Equal(t, 1, r.Count())

	_, err = r.Add("alice", &countingSender{})
	assert.ErrorIs(t, err, ErrDuplicateName)

	r.Remove(m)
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, m.Room())
	_, ok := r.Get("alice")
	assert.False(t, ok)
}

func TestRoster_InvalidNames(t *testing.T) {
	r := newRoster()
	for _, name := range []string{"", protocol.Broadcast, protocol.ServerName} {
		_, err := r.Add(name, &countingSender{})
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestRoster_RemoveStaleMember(t *testing.T) {
	r := newRoster()
	old, err := r.Add("alice", &countingSender{})
	require.NoError(t, err)
	r.Remove(old)
	fresh, err := r.Add("alice", &countingSender{})
	require.NoError(t, err)

	r.Remove(old)
	got, ok := r.Get("alice")
	require.True(t, ok, "removing a stale member must not evict the new login")
	assert.Same(t, fresh, got)
}

func TestRoster_JoinRooms(t *testing.T) {
	r := newRoster()
	alice, _ := r.Add("alice", &countingSender{})
	bob, _ := r.Add("bob", &countingSender{})

	require.NoError(t, r.Join(alice, "vault", protocol.StringPtr("s3cret")))
	assert.Equal(t, "vault", alice.Room())
	assert.Equal(t, []string{"General", "vault"}, r.List().Rooms)

	assert.ErrorIs(t, r.Join(bob, "vault", nil), ErrWrongPassword)
	assert.ErrorIs(t, r.Join(bob, "vault", protocol.StringPtr("nope")), ErrWrongPassword)
	assert.Equal(t, "General", bob.Room())

	require.NoError(t, r.Join(bob, "vault", protocol.StringPtr("s3cret")))
	assert.Len(t, r.RoomMembers("vault"), 2)
	assert.Empty(t, r.RoomMembers("General"))

	assert.ErrorIs(t, r.Join(bob, "", nil), ErrInvalidRoom)
	assert.ErrorIs(t, r.Join(bob, protocol.Broadcast, nil), ErrInvalidRoom)
}

func TestRoster_EmptyRoomsClose(t *testing.T) {
	r := newRoster()
	alice, _ := r.Add("alice", &countingSender{})

	require.NoError(t, r.Join(alice, "lounge", nil))
	require.NoError(t, r.Join(alice, "lounge", nil), "rejoining the current room keeps it")
	assert.Equal(t, []string{"General", "lounge"}, r.List().Rooms)

	require.NoError(t, r.Join(alice, "General", nil))
	assert.Equal(t, []string{"General"}, r.List().Rooms)

	require.NoError(t, r.Join(alice, "lounge", nil))
	r.Remove(alice)
	assert.Equal(t, []string{"General"}, r.List().Rooms, "default room survives, others close")
}

func TestRoster_ListIsSortedAndRefreshed(t *testing.T) {
	r := newRoster()
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := r.Add(name, &countingSender{})
		require.NoError(t, err)
	}
	first := r.List()
	assert.Equal(t, []string{"alice", "bob", "carol"}, first.Users)
	assert.Same(t, first, r.List(), "unchanged roster reuses the snapshot")

	m, _ := r.Get("bob")
	r.Remove(m)
	assert.Equal(t, []string{"alice", "carol"}, r.List().Users)
}

func TestRoster_Broadcast(t *testing.T) {
	r := newRoster()
	ok, broken := &countingSender{}, &countingSender{fail: true}
	_, _ = r.Add("ok", ok)
	_, _ = r.Add("broken", broken)

	assert.Equal(t, 1, r.Broadcast(r.List()))
	assert.Len(t, ok.sent, 1)
}

// Feature: roster, Property 1: Membership Consistency
// *For any* sequence of logins, room joins and logouts, every online user is
// in exactly one listed room and LIST names exactly the online users.
func TestRoster_Consistency_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := newRoster()
		online := map[string]*Member{}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			name := fmt.Sprintf("u%d", rapid.IntRange(0, 5).Draw(t, "user"))
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				m, err := r.Add(name, &countingSender{})
				if _, exists := online[name]; exists != (err != nil) {
					t.Fatalf("add %s: exists=%v err=%v", name, exists, err)
				}
				if err == nil {
					online[name] = m
				}
			case 1:
				if m, ok := online[name]; ok {
					room := fmt.Sprintf("r%d", rapid.IntRange(0, 2).Draw(t, "room"))
					_ = r.Join(m, room, nil)
				}
			case 2:
				if m, ok := online[name]; ok {
					r.Remove(m)
					delete(online, name)
				}
			}
		}

		l := r.List()
		if len(l.Users) != len(online) {
			t.Fatalf("LIST has %d users, want %d", len(l.Users), len(online))
		}
		seen := 0
		for _, room := range l.Rooms {
			seen += len(r.RoomMembers(room))
		}
		if seen != len(online) {
			t.Fatalf("rooms hold %d members, want %d", seen, len(online))
		}
		for _, m := range online {
			if len(r.RoomMembers(m.Room())) == 0 {
				t.Fatalf("%s is in unlisted room %q", m.Name, m.Room())
			}
		}
	})
}
