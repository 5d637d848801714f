package client

import (
	"github.com/Mmx233/QTalk/call"
	"github.com/Mmx233/QTalk/protocol"
)

func (c *Client) register() {
	c.dispatcher.Handle(protocol.CmdMsg, c.handleMsg)
	c.dispatcher.Handle(protocol.CmdFile, c.handleFile)
	c.dispatcher.Handle(protocol.CmdList, c.handleList)
	c.dispatcher.Handle(protocol.CmdJoinRoom, c.handleJoinRoom)
	c.dispatcher.Handle(protocol.CmdVideo, c.handleVideo)
	c.dispatcher.Handle(protocol.CmdAudio, c.handleAudio)
	c.dispatcher.Handle(protocol.CmdAcceptCall, c.handleAcceptCall)
	c.dispatcher.Handle(protocol.CmdEndCall, c.handleEndCall)
}

func (c *Client) handleMsg(p protocol.Packet) {
	m := p.(*protocol.Msg)
	c.emit(Event{Kind: EventMessage, From: m.From, Text: m.Text, Private: m.IsPrivate})
}

func (c *Client) handleFile(p protocol.Packet) {
	f := p.(*protocol.File)
	if f.Size != int64(len(f.Content)) {
		c.logger.Debug().
			Str("from", f.From).
			Int64("size", f.Size).
			Int("content", len(f.Content)).
			Msg("file size does not match content")
	}
	c.emit(Event{
		Kind:     EventFile,
		From:     f.From,
		Filename: f.Filename,
		Size:     int64(len(f.Content)),
		Content:  f.Content,
	})
}

func (c *Client) handleList(p protocol.Packet) {
	l := p.(*protocol.List)
	c.emit(Event{Kind: EventRoster, Users: l.Users, Rooms: l.Rooms})
}

func (c *Client) handleJoinRoom(p protocol.Packet) {
	j := p.(*protocol.JoinRoom)
	c.emit(Event{Kind: EventRoomJoined, Room: j.Room})
}

func (c *Client) handleVideo(p protocol.Packet) {
	v := p.(*protocol.VideoFrame)
	c.handleMedia(v.Sender, call.KindVideo, v.Frame)
}

func (c *Client) handleAudio(p protocol.Packet) {
	a := p.(*protocol.AudioChunk)
	c.handleMedia(a.Sender, call.KindAudio, a.Chunk)
}

func (c *Client) handleMedia(sender string, kind call.Kind, data []byte) {
	if c.calls.HandleMedia(sender, kind, data) != call.Started {
		return
	}
	if s := c.calls.Active(); s != nil && s.Partner == sender {
		c.emit(callEvent(EventCallStarted, s, s.StartedAt))
	}
}

func (c *Client) handleAcceptCall(p protocol.Packet) {
	a := p.(*protocol.AcceptCall)
	if s, ok := c.calls.HandleAccept(a.Sender); ok {
		c.emit(callEvent(EventCallAccepted, s, c.clock.Now()))
	}
}

func (c *Client) handleEndCall(p protocol.Packet) {
	e := p.(*protocol.EndCall)
	if s, ok := c.calls.HandleEndCall(e.Sender); ok {
		ev := callEvent(EventCallEnded, s, c.clock.Now())
		ev.Reason = ReasonRemote
		c.emit(ev)
	}
}
