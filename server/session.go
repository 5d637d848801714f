package server

import (
	"errors"

	"github.com/Mmx233/QTalk/protocol"
	"github.com/Mmx233/QTalk/server/roster"
	"github.com/rs/zerolog"
)

// session is one client connection on the relay. Handlers run on the
// connection's read goroutine.
type session struct {
	srv    *Server
	conn   *protocol.Conn
	member *roster.Member
	logger zerolog.Logger

	// callPeers are users this client streamed media to since its last
	// END_CALL. They are told the call ended if the client drops.
	callPeers map[string]struct{}
}

func (s *session) register(d *protocol.Dispatcher) {
	d.Handle(protocol.CmdLogin, s.handleLogin)
	d.Handle(protocol.CmdMsg, s.loggedIn(s.handleMsg))
	d.Handle(protocol.CmdJoinRoom, s.loggedIn(s.handleJoinRoom))
	d.Handle(protocol.CmdFile, s.loggedIn(s.handleFile))
	d.Handle(protocol.CmdVideo, s.loggedIn(s.handleVideo))
	d.Handle(protocol.CmdAudio, s.loggedIn(s.handleAudio))
	d.Handle(protocol.CmdAcceptCall, s.loggedIn(s.handleAcceptCall))
	d.Handle(protocol.CmdEndCall, s.loggedIn(s.handleEndCall))
}

// loggedIn drops packets that arrive before LOGIN.
func (s *session) loggedIn(h protocol.HandlerFunc) protocol.HandlerFunc {
	return func(p protocol.Packet) {
		if s.member == nil {
			s.logger.Debug().Str("command", string(p.Command())).Msg("ignoring packet before login")
			return
		}
		h(p)
	}
}

func (s *session) notice(text string) {
	s.conn.Send(&protocol.Msg{Text: text, From: protocol.ServerName, IsPrivate: true})
}

func (s *session) handleLogin(p protocol.Packet) {
	l := p.(*protocol.Login)
	if s.member != nil {
		s.logger.Debug().Str("username", l.Username).Msg("ignoring repeated login")
		return
	}

	m, err := s.srv.roster.Add(l.Username, s.conn)
	if err != nil {
		s.logger.Info().Err(err).Str("username", l.Username).Msg("login rejected")
		s.notice("Login rejected: " + err.Error())
		_ = s.conn.Close()
		return
	}
	s.member = m
	s.logger = s.logger.With().Str("user", m.Name).Logger()

	s.conn.Send(&protocol.JoinRoom{Room: m.Room()})
	s.srv.pushList()
}

// handleMsg relays a broadcast to the sender's whole room, the sender
// included, and a private message to its recipient with a copy to the sender.
func (s *session) handleMsg(p protocol.Packet) {
	in := p.(*protocol.Msg)

	if in.To == "" || in.To == protocol.Broadcast {
		out := &protocol.Msg{Text: in.Text, From: s.member.Name}
		for _, m := range s.srv.roster.RoomMembers(s.member.Room()) {
			m.Conn.Send(out)
		}
		return
	}

	target, ok := s.srv.roster.Get(in.To)
	if !ok {
		s.notice("User " + in.To + " is not online")
		return
	}
	out := &protocol.Msg{Text: in.Text, From: s.member.Name, IsPrivate: true}
	target.Conn.Send(out)
	if target != s.member {
		s.conn.Send(out)
	}
}

func (s *session) handleJoinRoom(p protocol.Packet) {
	j := p.(*protocol.JoinRoom)
	if err := s.srv.roster.Join(s.member, j.Room, j.Password); err != nil {
		s.logger.Info().Err(err).Str("room", j.Room).Msg("join rejected")
		if errors.Is(err, roster.ErrWrongPassword) {
			s.notice("Wrong password for room " + j.Room)
		} else {
			s.notice("Cannot join room: " + err.Error())
		}
		return
	}
	s.logger.Info().Str("room", j.Room).Msg("joined room")
	s.conn.Send(&protocol.JoinRoom{Room: j.Room})
	s.srv.pushList()
}

// handleFile forwards a file to one user, or to the rest of the room.
func (s *session) handleFile(p protocol.Packet) {
	in := p.(*protocol.File)
	out := &protocol.File{
		Filename: in.Filename,
		Size:     in.Size,
		Content:  in.Content,
		From:     s.member.Name,
	}

	if in.To != nil && *in.To != protocol.Broadcast {
		target, ok := s.srv.roster.Get(*in.To)
		if !ok {
			s.notice("User " + *in.To + " is not online")
			return
		}
		out.To = in.To
		target.Conn.Send(out)
		return
	}
	for _, m := range s.srv.roster.RoomMembers(s.member.Room()) {
		if m != s.member {
			m.Conn.Send(out)
		}
	}
}

// forward delivers call traffic to its target. Unknown targets are dropped
// silently since media keeps flowing until the caller hangs up.
func (s *session) forward(target string, p protocol.Packet) {
	m, ok := s.srv.roster.Get(target)
	if !ok || m == s.member {
		s.logger.Trace().Str("target", target).Str("command", string(p.Command())).Msg("dropping call packet")
		return
	}
	m.Conn.Send(p)
}

func (s *session) addPeer(name string) {
	if s.callPeers == nil {
		s.callPeers = make(map[string]struct{})
	}
	s.callPeers[name] = struct{}{}
}

func (s *session) handleVideo(p protocol.Packet) {
	v := p.(*protocol.VideoFrame)
	s.addPeer(v.Target)
	s.forward(v.Target, &protocol.VideoFrame{Target: v.Target, Frame: v.Frame, Sender: s.member.Name})
}

func (s *session) handleAudio(p protocol.Packet) {
	a := p.(*protocol.AudioChunk)
	s.addPeer(a.Target)
	s.forward(a.Target, &protocol.AudioChunk{Target: a.Target, Chunk: a.Chunk, Sender: s.member.Name})
}

func (s *session) handleAcceptCall(p protocol.Packet) {
	a := p.(*protocol.AcceptCall)
	s.forward(a.Target, &protocol.AcceptCall{Target: a.Target, Mode: a.Mode, Sender: s.member.Name})
}

func (s *session) handleEndCall(p protocol.Packet) {
	e := p.(*protocol.EndCall)
	delete(s.callPeers, e.Target)
	s.forward(e.Target, &protocol.EndCall{Target: e.Target, Sender: s.member.Name})
}

// leave unregisters the user once the connection is gone.
func (s *session) leave() {
	if s.member == nil {
		return
	}
	s.srv.roster.Remove(s.member)
	for peer := range s.callPeers {
		if m, ok := s.srv.roster.Get(peer); ok {
			m.Conn.Send(&protocol.EndCall{Target: peer, Sender: s.member.Name})
		}
	}
	s.srv.pushList()
}
