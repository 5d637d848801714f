package client

import (
	"time"

	"github.com/Mmx233/QTalk/call"
)

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventMessage      EventKind = "message"
	EventFile         EventKind = "file"
	EventRoster       EventKind = "roster"
	EventRoomJoined   EventKind = "room_joined"
	EventCallStarted  EventKind = "call_started"
	EventCallAccepted EventKind = "call_accepted"
	EventCallEnded    EventKind = "call_ended"
)

// Reasons carried by EventCallEnded.
const (
	ReasonRemote       = "remote"
	ReasonLocal        = "local"
	ReasonDisconnected = "disconnected"
)

// Event is one thing the presentation layer should show. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	// message and file
	From    string `json:"from,omitempty"`
	Text    string `json:"text,omitempty"`
	Private bool   `json:"private,omitempty"`

	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Content  []byte `json:"-"`

	// roster and room
	Users []string `json:"users,omitempty"`
	Rooms []string `json:"rooms,omitempty"`
	Room  string   `json:"room,omitempty"`

	// call
	Partner   string `json:"partner,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Incoming  bool   `json:"incoming,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func callEvent(kind EventKind, s *call.Session, now time.Time) Event {
	return Event{
		Kind:      kind,
		Time:      now,
		Partner:   s.Partner,
		Mode:      string(s.Mode),
		Incoming:  s.Incoming,
		SessionID: s.ID.String(),
	}
}

// View is presentation state rebuilt from events. It belongs to the single
// goroutine consuming Events and is not safe for concurrent use.
type View struct {
	Users []string
	Rooms []string
	Room  string
	// Call is the partner of the ongoing call, empty when idle.
	Call string
	// Online is false after a disconnect.
	Online bool
}

// Apply updates the view with e.
func (v *View) Apply(e Event) {
	switch e.Kind {
	case EventConnected:
		v.Online = true
	case EventDisconnected:
		v.Online = false
		v.Call = ""
	case EventRoster:
		v.Users = e.Users
		v.Rooms = e.Rooms
	case EventRoomJoined:
		v.Room = e.Room
	case EventCallStarted:
		v.Call = e.Partner
	case EventCallEnded:
		if v.Call == e.Partner {
			v.Call = ""
		}
	}
}
