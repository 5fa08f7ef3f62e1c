// Package room is the in-memory directory of live rooms: codes, seats,
// sessions and host ownership. It knows nothing about game rules. A Registry
// is not safe for concurrent use; the relay actor is its single owner and
// serializes every mutation.
package room

import (
	"errors"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxSeats is the fixed room size.
	MaxSeats = 5

	// codeRetries bounds the rejection sampling for a fresh room code. Codes
	// come from 1000-9999, so running out of retries means the live-room
	// population is pathological, not unlucky.
	codeRetries = 20
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room full")
	ErrCodeSpaceExhausted = errors.New("no room code available")
)

// Participant is one seated session. IsHost is derived from the room's host
// session and refreshed whenever the seat table is read out.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
	Seat      int    `json:"seat"`
	Online    bool   `json:"online"`
	IsHost    bool   `json:"isHost"`
}

// Room is one live room. Seats persist across disconnects (participants are
// only marked offline) so a returning session recovers its seat.
type Room struct {
	Code        string
	HostSession string
	CreatedAt   time.Time
	// Version is the monotonic snapshot counter as last published by the
	// room's host.
	Version uint64

	participants map[string]*Participant
}

// Participant returns the seat bound to a session, if any.
func (r *Room) Participant(session string) (*Participant, bool) {
	p, ok := r.participants[session]
	return p, ok
}

// Users lists the seat table in seat order with host flags refreshed.
func (r *Room) Users() []Participant {
	users := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		u := *p
		u.IsHost = p.SessionID == r.HostSession
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Seat < users[j].Seat })
	return users
}

func (r *Room) freeSeat() int {
	taken := make(map[int]bool, len(r.participants))
	for _, p := range r.participants {
		taken[p.Seat] = true
	}
	for seat := 1; seat <= MaxSeats; seat++ {
		if !taken[seat] {
			return seat
		}
	}
	return 0
}

// onlineCount counts seats whose session currently has a connection.
func (r *Room) onlineCount() int {
	n := 0
	for _, p := range r.participants {
		if p.Online {
			n++
		}
	}
	return n
}

// Registry holds every live room keyed by code.
type Registry struct {
	rooms map[string]*Room

	// Seams so tests can fix codes and time.
	codeFn func() string
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		codeFn: randCode,
		now:    time.Now,
	}
}

func randCode() string {
	n := 1000 + rand.IntN(9000)
	return itoa4(n)
}

func itoa4(n int) string {
	b := [4]byte{
		byte('0' + n/1000%10),
		byte('0' + n/100%10),
		byte('0' + n/10%10),
		byte('0' + n%10),
	}
	return string(b[:])
}

// Create opens a room under a fresh unique 4-digit code and seats the creator
// at seat 1 as host.
func (g *Registry) Create(session, name string) (*Room, *Participant, error) {
	code := ""
	for i := 0; i < codeRetries; i++ {
		c := g.codeFn()
		if _, taken := g.rooms[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		return nil, nil, ErrCodeSpaceExhausted
	}

	r := &Room{
		Code:         code,
		HostSession:  session,
		CreatedAt:    g.now(),
		participants: make(map[string]*Participant, MaxSeats),
	}
	p := &Participant{
		ID:        uuid.NewString(),
		Name:      name,
		SessionID: session,
		Seat:      1,
		Online:    true,
		IsHost:    true,
	}
	r.participants[session] = p
	g.rooms[code] = r
	return r, p, nil
}

// Join seats a session in the room. A session that already holds a seat gets
// it back (reconnect is idempotent); otherwise the lowest free seat is
// assigned.
func (g *Registry) Join(code, session, name string) (*Room, *Participant, error) {
	r, ok := g.rooms[code]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}

	if p, seated := r.participants[session]; seated {
		p.Online = true
		p.Name = name
		p.IsHost = session == r.HostSession
		return r, p, nil
	}

	seat := r.freeSeat()
	if seat == 0 {
		return nil, nil, ErrRoomFull
	}
	p := &Participant{
		ID:        uuid.NewString(),
		Name:      name,
		SessionID: session,
		Seat:      seat,
		Online:    true,
		IsHost:    session == r.HostSession,
	}
	r.participants[session] = p
	return r, p, nil
}

// Get looks up a live room.
func (g *Registry) Get(code string) (*Room, bool) {
	r, ok := g.rooms[code]
	return r, ok
}

// MarkHostOffline drops host ownership without assigning a successor. The
// room keeps existing; a later TransferHost picks the new authority.
func (g *Registry) MarkHostOffline(code string) {
	if r, ok := g.rooms[code]; ok {
		r.HostSession = ""
	}
}

// TransferHost hands authority to the given session.
func (g *Registry) TransferHost(code, session string) {
	if r, ok := g.rooms[code]; ok {
		r.HostSession = session
	}
}

// MarkOffline records a session's disconnect. The seat is kept. If the
// session was host, ownership moves to the lowest-seated participant still
// online. A room with nobody left online is deleted. Reports whether the
// host changed and whether the room is gone.
func (g *Registry) MarkOffline(code, session string) (hostChanged, roomDead bool) {
	r, ok := g.rooms[code]
	if !ok {
		return false, false
	}
	p, seated := r.participants[session]
	if !seated {
		return false, false
	}
	p.Online = false

	if session == r.HostSession {
		next := r.lowestOnline()
		if next != nil {
			r.HostSession = next.SessionID
			hostChanged = true
		} else {
			g.MarkHostOffline(code)
		}
	}

	if r.onlineCount() == 0 {
		delete(g.rooms, code)
		return hostChanged, true
	}
	return hostChanged, false
}

func (r *Room) lowestOnline() *Participant {
	var best *Participant
	for _, p := range r.participants {
		if !p.Online {
			continue
		}
		if best == nil || p.Seat < best.Seat {
			best = p
		}
	}
	return best
}

// Close deletes a room outright.
func (g *Registry) Close(code string) {
	delete(g.rooms, code)
}

// Len reports the live-room count.
func (g *Registry) Len() int { return len(g.rooms) }
