package protocol

import (
	"errors"
	"fmt"
)

// Command tags a packet's purpose on the wire.
type Command string

const (
	CmdLogin      Command = "LOGIN"       // sent once after connect
	CmdMsg        Command = "MSG"         // chat text, broadcast or private
	CmdJoinRoom   Command = "JOIN_ROOM"   // create or join a room
	CmdFile       Command = "FILE"        // whole file in one packet
	CmdVideo      Command = "VIDEO_FRAME" // one JPEG frame
	CmdAudio      Command = "AUDIO_CHUNK" // one PCM buffer
	CmdList       Command = "LIST"        // roster push from the relay
	CmdAcceptCall Command = "ACCEPT_CALL" // callee started transmitting back
	CmdEndCall    Command = "END_CALL"    // hangup
)

// Broadcast is the MSG recipient meaning every user in the sender's room.
const Broadcast = "All"

// ServerName is the sender of notices the relay itself writes.
const ServerName = "Server"

// DefaultPort is the relay's default listen port.
const DefaultPort = 5050

// Packet is one typed command variant. Packets travel as pointers, e.g. *Msg.
type Packet interface {
	Command() Command
	// Validate reports a schema mismatch the map decoder cannot express,
	// such as a missing required field.
	Validate() error
}

var errMissingField = errors.New("missing required field")

func missing(cmd Command, field string) error {
	return fmt.Errorf("%s: %w %q", cmd, errMissingField, field)
}

// Login registers the connection's username with the relay.
type Login struct {
	Username string `msgpack:"username"`
}

func (Login) Command() Command { return CmdLogin }

func (p Login) Validate() error {
	if p.Username == "" {
		return missing(CmdLogin, "username")
	}
	return nil
}

// Msg is a chat line. Outbound it carries To; the relay adds From and IsPrivate.
type Msg struct {
	Text      string `msgpack:"text"`
	To        string `msgpack:"to,omitempty"`
	From      string `msgpack:"from,omitempty"`
	IsPrivate bool   `msgpack:"is_private,omitempty"`
}

func (Msg) Command() Command { return CmdMsg }

func (p Msg) Validate() error {
	if p.To == "" && p.From == "" {
		return missing(CmdMsg, "to")
	}
	return nil
}

// JoinRoom creates a room, or joins it when it exists and the password matches.
type JoinRoom struct {
	Room     string  `msgpack:"room"`
	Password *string `msgpack:"password,omitempty"`
}

func (JoinRoom) Command() Command { return CmdJoinRoom }

func (p JoinRoom) Validate() error {
	if p.Room == "" {
		return missing(CmdJoinRoom, "room")
	}
	return nil
}

// File carries a whole file. A nil To broadcasts it.
type File struct {
	Filename string  `msgpack:"filename"`
	Size     int64   `msgpack:"size"`
	Content  []byte  `msgpack:"content"`
	To       *string `msgpack:"to,omitempty"`
	From     string  `msgpack:"from,omitempty"`
}

func (File) Command() Command { return CmdFile }

func (p File) Validate() error {
	if p.Filename == "" {
		return missing(CmdFile, "filename")
	}
	if p.Size < 0 {
		return fmt.Errorf("%s: negative size %d", CmdFile, p.Size)
	}
	return nil
}

// VideoFrame carries one compressed image for the call partner.
type VideoFrame struct {
	Target string `msgpack:"target"`
	Frame  []byte `msgpack:"frame"`
	Sender string `msgpack:"sender,omitempty"`
}

func (VideoFrame) Command() Command { return CmdVideo }

func (p VideoFrame) Validate() error {
	if p.Target == "" && p.Sender == "" {
		return missing(CmdVideo, "target")
	}
	if len(p.Frame) == 0 {
		return missing(CmdVideo, "frame")
	}
	return nil
}

// AudioChunk carries one fixed-size PCM buffer for the call partner.
type AudioChunk struct {
	Target string `msgpack:"target"`
	Chunk  []byte `msgpack:"chunk"`
	Sender string `msgpack:"sender,omitempty"`
}

func (AudioChunk) Command() Command { return CmdAudio }

func (p AudioChunk) Validate() error {
	if p.Target == "" && p.Sender == "" {
		return missing(CmdAudio, "target")
	}
	if len(p.Chunk) == 0 {
		return missing(CmdAudio, "chunk")
	}
	return nil
}

// List is the relay's roster push.
type List struct {
	Users []string `msgpack:"users"`
	Rooms []string `msgpack:"rooms"`
}

func (List) Command() Command { return CmdList }

func (List) Validate() error { return nil }

// AcceptCall tells the caller that the callee picked up and is transmitting.
type AcceptCall struct {
	Target string `msgpack:"target"`
	Mode   string `msgpack:"mode,omitempty"`
	Sender string `msgpack:"sender,omitempty"`
}

func (AcceptCall) Command() Command { return CmdAcceptCall }

func (p AcceptCall) Validate() error {
	if p.Target == "" && p.Sender == "" {
		return missing(CmdAcceptCall, "target")
	}
	return nil
}

// EndCall signals hangup. The relay adds Sender when forwarding.
type EndCall struct {
	Target string `msgpack:"target"`
	Sender string `msgpack:"sender,omitempty"`
}

func (EndCall) Command() Command { return CmdEndCall }

func (p EndCall) Validate() error {
	if p.Target == "" && p.Sender == "" {
		return missing(CmdEndCall, "target")
	}
	return nil
}

// registry maps wire tags to their variant constructors.
var registry = map[Command]func() Packet{
	CmdLogin:      func() Packet { return &Login{} },
	CmdMsg:        func() Packet { return &Msg{} },
	CmdJoinRoom:   func() Packet { return &JoinRoom{} },
	CmdFile:       func() Packet { return &File{} },
	CmdVideo:      func() Packet { return &VideoFrame{} },
	CmdAudio:      func() Packet { return &AudioChunk{} },
	CmdList:       func() Packet { return &List{} },
	CmdAcceptCall: func() Packet { return &AcceptCall{} },
	CmdEndCall:    func() Packet { return &EndCall{} },
}

// Known reports whether cmd is a command this package can decode.
func Known(cmd Command) bool {
	_, ok := registry[cmd]
	return ok
}

// StringPtr returns a pointer to s, for optional packet fields.
func StringPtr(s string) *string {
	return &s
}
