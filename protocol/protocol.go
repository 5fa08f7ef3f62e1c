// Package protocol defines the JSON message vocabulary spoken between
// clients, the relay and the room's host. Messages ride in envelopes; every
// client request is answered by an ack envelope bearing the same seq.
package protocol

import (
	"encoding/json"

	"github.com/ivanmorn/fool-stone/room"
)

// Message types.
const (
	RoomCreate    = "room:create"
	RoomJoin      = "room:join"
	RoomClose     = "room:close"
	RoomClosed    = "room:closed"
	PresenceList  = "presence:list"
	PresenceState = "presence:state"
	Intent        = "intent"
	Action        = "action"
	StateRequest  = "state:request"
	StateFull     = "state:full"
	Ack           = "ack"
)

// Envelope frames every message. Seq is set on client requests and echoed on
// the ack; server pushes carry no seq.
type Envelope struct {
	Seq  uint64          `json:"seq,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(seq uint64, typ string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Seq: seq, Type: typ, Data: raw}, nil
}

// CreateRequest opens a room.
type CreateRequest struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// JoinRequest takes (or retakes) a seat.
type JoinRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// ListRequest asks for the current seat table.
type ListRequest struct {
	Code string `json:"code"`
}

// CloseRequest tears a room down. Host only.
type CloseRequest struct {
	Code string `json:"code"`
}

// RoomAck answers room:create, room:join and presence:list. Code is set on
// create only, Me on create and join.
type RoomAck struct {
	Ok    bool               `json:"ok"`
	Code  string             `json:"code,omitempty"`
	Users []room.Participant `json:"users,omitempty"`
	Me    *room.Participant  `json:"me,omitempty"`
	Msg   string             `json:"msg,omitempty"`
}

// GenericAck answers everything else.
type GenericAck struct {
	Ok  bool   `json:"ok"`
	Msg string `json:"msg,omitempty"`
}

// IntentMsg is a non-host action request. The relay forwards it verbatim to
// the host's connections and nowhere else.
type IntentMsg struct {
	Room   string          `json:"room"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	From   string          `json:"from"`
}

// ActionSubmit is a host-announced game event; the relay rebroadcasts it to
// the room as an ActionEvent.
type ActionSubmit struct {
	Room   string          `json:"room"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	From   string          `json:"from"`
}

type ActionEvent struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from"`
	At      int64           `json:"at"`
}

// StateRequestMsg asks the host for a fresh snapshot; the relay relays it
// like an intent, keeping the requester's session so the reply can be
// targeted.
type StateRequestMsg struct {
	Room string `json:"room"`
	From string `json:"from"`
}

// StateFullSubmit carries the host's canonical snapshot. With Target set it
// reaches only that session, otherwise the whole room.
type StateFullSubmit struct {
	Room     string          `json:"room"`
	Snapshot json.RawMessage `json:"snapshot"`
	From     string          `json:"from"`
	Target   string          `json:"target,omitempty"`
}

type StateFullEvent struct {
	Snapshot json.RawMessage `json:"snapshot"`
	From     string          `json:"from"`
	At       int64           `json:"at"`
	Target   string          `json:"target,omitempty"`
}

// PresenceEvent is pushed to the whole room on any seat-table change.
type PresenceEvent struct {
	RoomCode string             `json:"roomCode"`
	Users    []room.Participant `json:"users"`
}

// ClosedEvent is the terminal push before a room is deleted.
type ClosedEvent struct {
	Code string `json:"code"`
}
