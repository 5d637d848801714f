// Package roster tracks which users are online and which room each one is in.
package roster

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/QTalk/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateName = errors.New("username already taken")
	ErrInvalidName   = errors.New("invalid username")
	ErrUnknownUser   = errors.New("user not online")
	ErrWrongPassword = errors.New("wrong room password")
	ErrInvalidRoom   = errors.New("invalid room name")
)

// Sender is the part of a connection the roster needs.
type Sender interface {
	Send(p protocol.Packet) bool
}

// Member is one logged in user.
type Member struct {
	Name     string
	Conn     Sender
	JoinedAt time.Time

	room atomic.Pointer[string]
}

// Room returns the room the member is currently in.
func (m *Member) Room() string {
	if r := m.room.Load(); r != nil {
		return *r
	}
	return ""
}

type room struct {
	name     string
	password string
	members  map[string]*Member
}

// Roster is the relay's registry of users and rooms.
type Roster struct {
	mu          sync.RWMutex
	members     map[string]*Member
	rooms       map[string]*room
	defaultRoom string
	logger      zerolog.Logger

	// snapshot of the LIST payload, rebuilt after every change
	cachedList atomic.Pointer[protocol.List]
}

// New creates a roster whose users land in defaultRoom after login. The
// default room always exists and has no password.
func New(defaultRoom string, logger zerolog.Logger) *Roster {
	r := &Roster{
		members:     make(map[string]*Member),
		rooms:       make(map[string]*room),
		defaultRoom: defaultRoom,
		logger:      logger,
	}
	r.rooms[defaultRoom] = &room{name: defaultRoom, members: make(map[string]*Member)}
	return r
}

// DefaultRoom returns the room new members join.
func (r *Roster) DefaultRoom() string {
	return r.defaultRoom
}

// Add registers a user in the default room.
func (r *Roster) Add(name string, conn Sender) (*Member, error) {
	if name == "" || name == protocol.Broadcast || name == protocol.ServerName {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	m := &Member{Name: name, Conn: conn, JoinedAt: time.Now()}
	r.members[name] = m
	r.moveLocked(m, r.rooms[r.defaultRoom])
	r.cachedList.Store(nil)

	r.logger.Info().Str("user", name).Int("online", len(r.members)).Msg("user logged in")
	return m, nil
}

// Remove unregisters m. It is a no-op when m was already replaced or removed.
func (r *Roster) Remove(m *Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, exists := r.members[m.Name]; !exists || cur != m {
		return
	}
	delete(r.members, m.Name)
	r.moveLocked(m, nil)
	r.cachedList.Store(nil)

	r.logger.Info().Str("user", m.Name).Int("online", len(r.members)).Msg("user left")
}

// Join moves m into the named room, creating it with password when it does
// not exist yet. Joining an existing room requires its password.
func (r *Roster) Join(m *Member, name string, password *string) error {
	if name == "" || name == protocol.Broadcast {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target, exists := r.rooms[name]
	if !exists {
		target = &room{name: name, members: make(map[string]*Member)}
		if password != nil {
			target.password = *password
		}
		r.rooms[name] = target
		r.logger.Info().Str("room", name).Str("user", m.Name).Bool("protected", target.password != "").Msg("room created")
	} else if target.password != "" && (password == nil || *password != target.password) {
		return fmt.Errorf("%w: %s", ErrWrongPassword, name)
	}

	r.moveLocked(m, target)
	r.cachedList.Store(nil)
	return nil
}

// moveLocked takes m out of its current room and puts it into target. Empty
// rooms other than the default are dropped.
func (r *Roster) moveLocked(m *Member, target *room) {
	if cur, ok := r.rooms[m.Room()]; ok {
		delete(cur.members, m.Name)
		if len(cur.members) == 0 && cur.name != r.defaultRoom && cur != target {
			delete(r.rooms, cur.name)
			r.logger.Debug().Str("room", cur.name).Msg("room closed")
		}
	}
	if target == nil {
		m.room.Store(nil)
		return
	}
	target.members[m.Name] = m
	name := target.name
	m.room.Store(&name)
}

// Get returns the member with the given name.
func (r *Roster) Get(name string) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[name]
	return m, ok
}

// RoomMembers returns everyone in the named room.
func (r *Roster) RoomMembers(name string) []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return nil
	}
	out := make([]*Member, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m)
	}
	return out
}

// Members returns every online user.
func (r *Roster) Members() []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// Count returns the number of online users.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// List returns the sorted user and room names as a LIST packet. The result
// is shared and must not be modified.
func (r *Roster) List() *protocol.List {
	if l := r.cachedList.Load(); l != nil {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// another goroutine may have rebuilt it while we waited
	if l := r.cachedList.Load(); l != nil {
		return l
	}

	l := &protocol.List{
		Users: make([]string, 0, len(r.members)),
		Rooms: make([]string, 0, len(r.rooms)),
	}
	for name := range r.members {
		l.Users = append(l.Users, name)
	}
	for name := range r.rooms {
		l.Rooms = append(l.Rooms, name)
	}
	slices.Sort(l.Users)
	slices.Sort(l.Rooms)
	r.cachedList.Store(l)
	return l
}

// Broadcast sends p to every online user and returns how many sends failed.
func (r *Roster) Broadcast(p protocol.Packet) int {
	failed := 0
	for _, m := range r.Members() {
		if !m.Conn.Send(p) {
			failed++
		}
	}
	return failed
}
