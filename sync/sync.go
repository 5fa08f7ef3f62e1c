// Package sync is the per-participant adapter between the local game and the
// relay. Exactly one participant per room (the host) owns a live engine;
// everyone else is a thin terminal that sends intents and adopts whatever
// snapshot the host broadcasts.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ivanmorn/fool-stone/engine"
	"github.com/ivanmorn/fool-stone/protocol"
	"github.com/ivanmorn/fool-stone/room"
)

const defaultAckTimeout = 8 * time.Second

var (
	ErrAckTimeout = errors.New("sync: ack timeout")
	ErrRejected   = errors.New("sync: request rejected")
	ErrNotInRoom  = errors.New("sync: not in a room")
	ErrClosed     = errors.New("sync: client closed")
)

// Client is one participant's connection to the relay.
type Client struct {
	session string
	name    string

	sock    *websocket.Conn
	writeMu sync.Mutex

	seq     atomic.Uint64
	ackMu   sync.Mutex
	pending map[uint64]chan json.RawMessage

	events chan protocol.Envelope
	cmds   chan func()
	done   chan struct{}
	once   sync.Once

	ackTimeout time.Duration
	log        zerolog.Logger

	// View state. Written only by the run loop and the join/create calls,
	// read by anyone through the accessors.
	stateMu  sync.RWMutex
	roomCode string
	isHost   bool
	users    []room.Participant
	game     *engine.Game
	version  uint64
}

type Option func(*Client)

func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) { c.ackTimeout = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Dial connects to the relay's websocket endpoint. The session id is the
// client-persisted identity used to recover a seat after reconnecting.
func Dial(ctx context.Context, url, session, name string, opts ...Option) (*Client, error) {
	sock, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sync: dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		session:    session,
		name:       name,
		sock:       sock,
		pending:    make(map[uint64]chan json.RawMessage),
		events:     make(chan protocol.Envelope, 64),
		cmds:       make(chan func(), 16),
		done:       make(chan struct{}),
		ackTimeout: defaultAckTimeout,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	go c.run()
	return c, nil
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

func (c *Client) SessionID() string { return c.session }

func (c *Client) RoomCode() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.roomCode
}

func (c *Client) IsHost() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.isHost
}

func (c *Client) Users() []room.Participant {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]room.Participant(nil), c.users...)
}

// Game returns a copy of the current local view, which is authoritative only
// on the host.
func (c *Client) Game() *engine.Game {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.game.Clone()
}

func (c *Client) Version() uint64 {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.version
}

// CreateRoom opens a new room with this client as host.
func (c *Client) CreateRoom() (string, error) {
	var ack protocol.RoomAck
	if err := c.request(protocol.RoomCreate, protocol.CreateRequest{
		Name:      c.name,
		SessionID: c.session,
	}, &ack); err != nil {
		return "", err
	}
	if !ack.Ok {
		return "", fmt.Errorf("%w: %s", ErrRejected, ack.Msg)
	}

	c.stateMu.Lock()
	c.roomCode = ack.Code
	c.isHost = true
	c.users = ack.Users
	c.stateMu.Unlock()
	return ack.Code, nil
}

// JoinRoom takes (or retakes) a seat. A non-host immediately asks the host
// for one snapshot to catch up; the host never does.
func (c *Client) JoinRoom(code string) error {
	var ack protocol.RoomAck
	if err := c.request(protocol.RoomJoin, protocol.JoinRequest{
		Code:      code,
		Name:      c.name,
		SessionID: c.session,
	}, &ack); err != nil {
		return err
	}
	if !ack.Ok {
		return fmt.Errorf("%w: %s", ErrRejected, ack.Msg)
	}

	host := ack.Me != nil && ack.Me.IsHost
	c.stateMu.Lock()
	c.roomCode = code
	c.isHost = host
	c.users = ack.Users
	c.stateMu.Unlock()

	if !host {
		return c.RequestState()
	}
	return nil
}

// RequestState asks the room's host for a targeted resync.
func (c *Client) RequestState() error {
	code := c.RoomCode()
	if code == "" {
		return ErrNotInRoom
	}
	var ack protocol.GenericAck
	if err := c.request(protocol.StateRequest, protocol.StateRequestMsg{
		Room: code,
		From: c.session,
	}, &ack); err != nil {
		return err
	}
	if !ack.Ok {
		return ErrRejected
	}
	return nil
}

// CloseRoom tears the room down. Host only; the relay rejects anyone else.
func (c *Client) CloseRoom() error {
	code := c.RoomCode()
	if code == "" {
		return ErrNotInRoom
	}
	var ack protocol.GenericAck
	if err := c.request(protocol.RoomClose, protocol.CloseRequest{Code: code}, &ack); err != nil {
		return err
	}
	if !ack.Ok {
		return ErrRejected
	}
	return nil
}

// --- game actions -----------------------------------------------------------

type newGamePayload struct {
	Names     []string `json:"names,omitempty"`
	Threshold int      `json:"threshold,omitempty"`
	Seed      string   `json:"seed,omitempty"`
}

type flaskPayload struct {
	No int `json:"no"`
}

type castPayload struct {
	PlayerID string            `json:"playerId"`
	Stone    engine.Stone      `json:"stone"`
	Mode     engine.CastAction `json:"mode"`
	A        string            `json:"a,omitempty"`
	B        string            `json:"b,omitempty"`
}

// NewGame starts a game. An empty seed lets the host draw a fresh one, names
// default to the current seat table.
func (c *Client) NewGame(names []string, threshold int, seed string) error {
	return c.do("newGame", newGamePayload{Names: names, Threshold: threshold, Seed: seed})
}

func (c *Client) Discard(no int) error {
	return c.do("discard", flaskPayload{No: no})
}

func (c *Client) Pick(no int) error {
	return c.do("pick", flaskPayload{No: no})
}

func (c *Client) Cast(playerID string, stone engine.Stone, mode engine.CastAction, targetA, targetB string) error {
	return c.do("cast", castPayload{PlayerID: playerID, Stone: stone, Mode: mode, A: targetA, B: targetB})
}

func (c *Client) NextCast() error {
	return c.do("nextCast", struct{}{})
}

func (c *Client) FoolPrank() error {
	return c.do("foolPrank", struct{}{})
}

// do routes a local action: hosts apply it to the engine and broadcast the
// result, everyone else wraps it in an intent for the host. A non-host's own
// view changes only when the snapshot comes back.
func (c *Client) do(action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	code := c.RoomCode()
	if code == "" {
		return ErrNotInRoom
	}

	if c.IsHost() {
		errCh := make(chan error, 1)
		select {
		case c.cmds <- func() { errCh <- c.applyAndBroadcast(action, raw, c.session) }:
		case <-c.done:
			return ErrClosed
		}
		select {
		case err := <-errCh:
			return err
		case <-c.done:
			return ErrClosed
		}
	}

	var ack protocol.GenericAck
	if err := c.request(protocol.Intent, protocol.IntentMsg{
		Room:   code,
		Action: action,
		Data:   raw,
		From:   c.session,
	}, &ack); err != nil {
		return err
	}
	if !ack.Ok {
		return ErrRejected
	}
	return nil
}

// --- run loop ---------------------------------------------------------------

// run serializes all game-state mutation for this participant: incoming
// relay pushes and local host actions are applied one at a time, never
// concurrently.
func (c *Client) run() {
	for {
		select {
		case env := <-c.events:
			c.handleEvent(env)
		case fn := <-c.cmds:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleEvent(env protocol.Envelope) {
	switch env.Type {
	case protocol.PresenceState:
		c.handlePresence(env.Data)
	case protocol.Intent:
		c.handleIntent(env.Data)
	case protocol.StateRequest:
		c.handleStateRequest(env.Data)
	case protocol.StateFull:
		c.handleStateFull(env.Data)
	case protocol.RoomClosed:
		c.handleRoomClosed()
	case protocol.Action:
		// Informational host announcements; the snapshot that follows is
		// what actually moves the view.
	}
}

func (c *Client) handlePresence(data json.RawMessage) {
	var ev protocol.PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	c.stateMu.Lock()
	wasHost := c.isHost
	c.roomCode = ev.RoomCode
	c.users = ev.Users
	c.isHost = false
	for _, u := range ev.Users {
		if u.SessionID == c.session {
			c.isHost = u.IsHost
		}
	}
	promoted := !wasHost && c.isHost
	c.stateMu.Unlock()

	if promoted {
		// Host migration: authority lands on this client's last applied
		// snapshot. In a single-process room everyone already held the same
		// state; log it so a desync is at least visible.
		c.log.Info().Str("room", ev.RoomCode).Uint64("version", c.Version()).
			Msg("promoted to host")
	}
}

// handleIntent runs on the host only: replay the participant's action
// through the engine exactly as if it were local, then broadcast the truth.
func (c *Client) handleIntent(data json.RawMessage) {
	if !c.IsHost() {
		return
	}
	var msg protocol.IntentMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.From == c.session {
		return
	}
	if err := c.applyAndBroadcast(msg.Action, msg.Data, msg.From); err != nil {
		c.log.Warn().Err(err).Str("action", msg.Action).Msg("intent failed")
	}
}

func (c *Client) handleStateRequest(data json.RawMessage) {
	if !c.IsHost() {
		return
	}
	var msg protocol.StateRequestMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := c.broadcastSnapshot(msg.From); err != nil {
		c.log.Warn().Err(err).Str("to", msg.From).Msg("resync failed")
	}
}

// handleStateFull adopts a broadcast snapshot wholesale. Snapshots that are
// self-addressed to someone else, echoes of our own, or not strictly newer
// than the local version are dropped.
func (c *Client) handleStateFull(data json.RawMessage) {
	var ev protocol.StateFullEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.Target != "" && ev.Target != c.session {
		return
	}
	if ev.From == c.session {
		return
	}
	snap, err := engine.DecodeSnapshot(ev.Snapshot)
	if err != nil {
		return
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if snap.Version <= c.version {
		return
	}
	c.version = snap.Version
	c.game = snap.Game
}

func (c *Client) handleRoomClosed() {
	c.stateMu.Lock()
	c.roomCode = ""
	c.isHost = false
	c.users = nil
	c.stateMu.Unlock()
}

// applyAndBroadcast mutates the authoritative engine and pushes the new
// truth to the room. Runs only inside the run loop.
func (c *Client) applyAndBroadcast(action string, data json.RawMessage, from string) error {
	if err := c.apply(action, data, from); err != nil {
		return err
	}
	return c.broadcastSnapshot("")
}

func (c *Client) apply(action string, data json.RawMessage, from string) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if action == "newGame" {
		var p newGamePayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
		}
		names := p.Names
		if len(names) == 0 {
			names = c.seatNamesLocked()
		}
		if p.Seed == "" {
			p.Seed = uuid.NewString()
		}
		g, err := engine.NewGame(names, p.Seed, p.Threshold)
		if err != nil {
			return err
		}
		c.game = g
		return nil
	}

	if c.game == nil {
		return errors.New("sync: no game in progress")
	}

	switch action {
	case "discard":
		var p flaskPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		c.game.DiscardFlask(p.No)
	case "pick":
		var p flaskPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		c.game.PickFlask(p.No)
	case "nextCast":
		c.game.NextCast()
	case "foolPrank":
		c.game.FoolPrank(c.playerIDForLocked(from))
	case "cast":
		var p castPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		c.game.CastStone(p.PlayerID, p.Stone, p.Mode, p.A, p.B)
	default:
		return fmt.Errorf("sync: unknown intent %q", action)
	}
	return nil
}

// seatNamesLocked builds the default player names from the seat table.
func (c *Client) seatNamesLocked() []string {
	names := make([]string, engine.NumPlayers)
	for i := range names {
		names[i] = fmt.Sprintf("Seat %d", i+1)
	}
	for _, u := range c.users {
		if u.Seat >= 1 && u.Seat <= engine.NumPlayers && u.Name != "" {
			names[u.Seat-1] = u.Name
		}
	}
	return names
}

// playerIDForLocked maps a session to its seat-bound player id (P1..P5).
func (c *Client) playerIDForLocked(session string) string {
	for _, u := range c.users {
		if u.SessionID == session {
			return fmt.Sprintf("P%d", u.Seat)
		}
	}
	return ""
}

func (c *Client) broadcastSnapshot(target string) error {
	c.stateMu.Lock()
	code := c.roomCode
	if code == "" {
		c.stateMu.Unlock()
		return ErrNotInRoom
	}
	if target == "" {
		c.version++
	}
	snap := engine.Snapshot{Version: c.version, Game: c.game.Clone()}
	c.stateMu.Unlock()

	raw, err := snap.Encode()
	if err != nil {
		return err
	}
	var ack protocol.GenericAck
	if err := c.request(protocol.StateFull, protocol.StateFullSubmit{
		Room:     code,
		Snapshot: raw,
		From:     c.session,
		Target:   target,
	}, &ack); err != nil {
		return err
	}
	if !ack.Ok {
		return ErrRejected
	}
	return nil
}

// --- transport --------------------------------------------------------------

// request sends one envelope and waits for its ack within the bounded
// timeout. A timeout is caller-local; the relay may still complete the
// operation.
func (c *Client) request(typ string, payload any, out any) error {
	seq := c.seq.Add(1)
	env, err := protocol.NewEnvelope(seq, typ, payload)
	if err != nil {
		return err
	}
	ch := make(chan json.RawMessage, 1)
	c.ackMu.Lock()
	c.pending[seq] = ch
	c.ackMu.Unlock()
	defer func() {
		c.ackMu.Lock()
		delete(c.pending, seq)
		c.ackMu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case raw := <-ch:
		if out == nil {
			return nil
		}
		return json.Unmarshal(raw, out)
	case <-timer.C:
		return ErrAckTimeout
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) write(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == protocol.Ack {
			c.ackMu.Lock()
			ch, ok := c.pending[env.Seq]
			c.ackMu.Unlock()
			if ok {
				ch <- env.Data
			}
			continue
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}
