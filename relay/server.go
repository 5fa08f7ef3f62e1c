// Package relay routes room and game traffic between clients and the current
// host of each room. A single actor goroutine owns the room registry, so all
// seat-table and host-pointer mutations are serialized no matter how many
// connections race on them.
package relay

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivanmorn/fool-stone/protocol"
	"github.com/ivanmorn/fool-stone/room"
)

type inboundMsg struct {
	conn *conn
	env  protocol.Envelope
}

// Server is the relay. Construct with NewServer, start Run in its own
// goroutine, attach connections via Attach (or the gin handler).
type Server struct {
	reg *room.Registry
	log zerolog.Logger

	inbox       chan inboundMsg
	disconnects chan *conn

	// byRoom indexes the live connections of each room. Owned by the actor.
	byRoom map[string]map[*conn]struct{}

	done chan struct{}
}

func NewServer(reg *room.Registry, log zerolog.Logger) *Server {
	return &Server{
		reg:         reg,
		log:         log,
		inbox:       make(chan inboundMsg, 1024),
		disconnects: make(chan *conn, 64),
		byRoom:      make(map[string]map[*conn]struct{}),
		done:        make(chan struct{}),
	}
}

// Attach adopts a connection: starts its pumps and feeds its messages into
// the actor.
func (s *Server) Attach(sock Socket) {
	c := newConn(sock)
	go c.writePump()
	go c.readPump(s)
}

// Shutdown stops the actor loop. In-flight connections are not chased; their
// pumps die with their sockets.
func (s *Server) Shutdown() {
	close(s.done)
}

// Run is the actor loop. All registry access happens here.
func (s *Server) Run() {
	for {
		select {
		case msg := <-s.inbox:
			s.handle(msg.conn, msg.env)
		case c := <-s.disconnects:
			s.handleDisconnect(c)
		case <-s.done:
			return
		}
	}
}

func (s *Server) handle(c *conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.RoomCreate:
		s.handleCreate(c, env)
	case protocol.RoomJoin:
		s.handleJoin(c, env)
	case protocol.PresenceList:
		s.handlePresenceList(c, env)
	case protocol.Intent:
		s.handleIntent(c, env)
	case protocol.Action:
		s.handleAction(c, env)
	case protocol.StateRequest:
		s.handleStateRequest(c, env)
	case protocol.StateFull:
		s.handleStateFull(c, env)
	case protocol.RoomClose:
		s.handleClose(c, env)
	default:
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false, Msg: "unknown message type"})
	}
}

func (s *Server) ack(c *conn, seq uint64, payload any) {
	env, err := protocol.NewEnvelope(seq, protocol.Ack, payload)
	if err != nil {
		return
	}
	c.send(env)
}

func (s *Server) push(c *conn, typ string, payload any) {
	env, err := protocol.NewEnvelope(0, typ, payload)
	if err != nil {
		return
	}
	c.send(env)
}

func (s *Server) pushRoom(code, typ string, payload any) {
	for c := range s.byRoom[code] {
		s.push(c, typ, payload)
	}
}

func (s *Server) pushSession(code, session, typ string, payload any) {
	for c := range s.byRoom[code] {
		if c.session == session {
			s.push(c, typ, payload)
		}
	}
}

func (s *Server) pushPresence(r *room.Room) {
	s.pushRoom(r.Code, protocol.PresenceState, protocol.PresenceEvent{
		RoomCode: r.Code,
		Users:    r.Users(),
	})
}

func (s *Server) tag(c *conn, code, session string) {
	s.untag(c)
	c.roomCode = code
	c.session = session
	set, ok := s.byRoom[code]
	if !ok {
		set = make(map[*conn]struct{})
		s.byRoom[code] = set
	}
	set[c] = struct{}{}
}

func (s *Server) untag(c *conn) {
	if c.roomCode == "" {
		return
	}
	if set, ok := s.byRoom[c.roomCode]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.byRoom, c.roomCode)
		}
	}
	c.roomCode = ""
}

func validCode(code string) bool {
	if len(code) != 4 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Server) handleCreate(c *conn, env protocol.Envelope) {
	var req protocol.CreateRequest
	if err := json.Unmarshal(env.Data, &req); err != nil || req.Name == "" || req.SessionID == "" {
		s.ack(c, env.Seq, protocol.RoomAck{Ok: false, Msg: "missing name or sessionId"})
		return
	}

	r, me, err := s.reg.Create(req.SessionID, req.Name)
	if err != nil {
		s.ack(c, env.Seq, protocol.RoomAck{Ok: false, Msg: err.Error()})
		return
	}
	s.tag(c, r.Code, req.SessionID)

	meCopy := *me
	meCopy.IsHost = true
	s.ack(c, env.Seq, protocol.RoomAck{Ok: true, Code: r.Code, Users: r.Users(), Me: &meCopy})
	s.pushPresence(r)
	s.log.Info().Str("code", r.Code).Str("session", req.SessionID).Msg("room created")
}

func (s *Server) handleJoin(c *conn, env protocol.Envelope) {
	var req protocol.JoinRequest
	if err := json.Unmarshal(env.Data, &req); err != nil || req.Name == "" || req.SessionID == "" {
		s.ack(c, env.Seq, protocol.RoomAck{Ok: false, Msg: "missing name or sessionId"})
		return
	}
	if !validCode(req.Code) {
		s.ack(c, env.Seq, protocol.RoomAck{Ok: false, Msg: "malformed room code"})
		return
	}

	r, me, err := s.reg.Join(req.Code, req.SessionID, req.Name)
	if err != nil {
		s.ack(c, env.Seq, protocol.RoomAck{Ok: false, Msg: err.Error()})
		return
	}
	s.tag(c, r.Code, req.SessionID)

	meCopy := *me
	meCopy.IsHost = me.SessionID == r.HostSession
	s.ack(c, env.Seq, protocol.RoomAck{Ok: true, Users: r.Users(), Me: &meCopy})
	s.pushPresence(r)
	s.log.Info().Str("code", r.Code).Str("session", req.SessionID).Int("seat", me.Seat).Msg("joined room")
}

func (s *Server) handlePresenceList(c *conn, env protocol.Envelope) {
	var req protocol.ListRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.ack(c, env.Seq, protocol.RoomAck{Ok: false, Msg: "bad request"})
		return
	}
	r, ok := s.reg.Get(req.Code)
	if !ok {
		s.ack(c, env.Seq, protocol.RoomAck{Ok: false, Msg: room.ErrRoomNotFound.Error()})
		return
	}
	s.ack(c, env.Seq, protocol.RoomAck{Ok: true, Users: r.Users()})
}

// handleIntent forwards a participant's requested action to the host's
// connections only. It is never applied here and never reaches the rest of
// the room.
func (s *Server) handleIntent(c *conn, env protocol.Envelope) {
	var msg protocol.IntentMsg
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	r, ok := s.reg.Get(msg.Room)
	if !ok {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	if msg.From == "" {
		msg.From = c.session
	}
	s.pushSession(msg.Room, r.HostSession, protocol.Intent, msg)
	s.ack(c, env.Seq, protocol.GenericAck{Ok: true})
}

// handleAction rebroadcasts a host-announced event to the whole room.
// Only the room's current host may announce.
func (s *Server) handleAction(c *conn, env protocol.Envelope) {
	var msg protocol.ActionSubmit
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	r, ok := s.reg.Get(msg.Room)
	if !ok || c.session != r.HostSession {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	s.pushRoom(msg.Room, protocol.Action, protocol.ActionEvent{
		Action:  msg.Action,
		Payload: msg.Data,
		From:    msg.From,
		At:      time.Now().UnixMilli(),
	})
	s.ack(c, env.Seq, protocol.GenericAck{Ok: true})
}

func (s *Server) handleStateRequest(c *conn, env protocol.Envelope) {
	var msg protocol.StateRequestMsg
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	r, ok := s.reg.Get(msg.Room)
	if !ok {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	if msg.From == "" {
		msg.From = c.session
	}
	s.pushSession(msg.Room, r.HostSession, protocol.StateRequest, msg)
	s.ack(c, env.Seq, protocol.GenericAck{Ok: true})
}

func (s *Server) handleStateFull(c *conn, env protocol.Envelope) {
	var msg protocol.StateFullSubmit
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	r, ok := s.reg.Get(msg.Room)
	if !ok || c.session != r.HostSession {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}

	// Track the room's version high-water mark for observability; receivers
	// do their own staleness checks.
	var versioned struct {
		Version uint64 `json:"version"`
	}
	if err := json.Unmarshal(msg.Snapshot, &versioned); err == nil && versioned.Version > r.Version {
		r.Version = versioned.Version
	}

	event := protocol.StateFullEvent{
		Snapshot: msg.Snapshot,
		From:     msg.From,
		At:       time.Now().UnixMilli(),
		Target:   msg.Target,
	}
	if msg.Target != "" {
		s.pushSession(msg.Room, msg.Target, protocol.StateFull, event)
	} else {
		s.pushRoom(msg.Room, protocol.StateFull, event)
	}
	s.ack(c, env.Seq, protocol.GenericAck{Ok: true})
}

func (s *Server) handleClose(c *conn, env protocol.Envelope) {
	var req protocol.CloseRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}
	r, ok := s.reg.Get(req.Code)
	if !ok || c.session != r.HostSession {
		s.ack(c, env.Seq, protocol.GenericAck{Ok: false})
		return
	}

	s.pushRoom(req.Code, protocol.RoomClosed, protocol.ClosedEvent{Code: req.Code})
	for conn := range s.byRoom[req.Code] {
		conn.roomCode = ""
	}
	delete(s.byRoom, req.Code)
	s.reg.Close(req.Code)
	s.ack(c, env.Seq, protocol.GenericAck{Ok: true})
	s.log.Info().Str("code", req.Code).Msg("room closed by host")
}

// handleDisconnect repairs room state after a connection teardown: the seat
// is kept but marked offline, host ownership moves immediately if needed, an
// empty room dies, everyone else learns the new seat table.
func (s *Server) handleDisconnect(c *conn) {
	code, session := c.roomCode, c.session
	s.untag(c)
	c.close("")
	if code == "" || session == "" {
		return
	}

	// The same session may hold several connections (extra tabs); the seat
	// goes offline only when the last one is gone.
	for other := range s.byRoom[code] {
		if other.session == session {
			return
		}
	}

	hostChanged, roomDead := s.reg.MarkOffline(code, session)
	if roomDead {
		s.log.Info().Str("code", code).Msg("room emptied and deleted")
		return
	}
	if r, ok := s.reg.Get(code); ok {
		s.pushPresence(r)
		if hostChanged {
			s.log.Info().Str("code", code).Str("host", r.HostSession).Msg("host migrated")
		}
	}
}
