package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ivanmorn/fool-stone/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = time.Minute
	pingPeriod = 30 * time.Second

	outboundBuffer = 256
)

// Socket is the narrow transport surface the relay needs; tests substitute
// in-memory pipes for it.
type Socket interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Ping() error
	Close(reason string)
}

type wsSocket struct {
	sock *websocket.Conn
}

// NewWebsocketSocket wraps a gorilla connection. Pongs extend the read
// deadline; a silent peer is dropped after pongWait.
func NewWebsocketSocket(conn *websocket.Conn) Socket {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsSocket{sock: conn}
}

func (w *wsSocket) Read() ([]byte, error) {
	_, p, err := w.sock.ReadMessage()
	return p, err
}

func (w *wsSocket) Write(data []byte) error {
	w.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return w.sock.WriteMessage(websocket.TextMessage, data)
}

func (w *wsSocket) Ping() error {
	w.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return w.sock.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsSocket) Close(reason string) {
	w.sock.SetWriteDeadline(time.Now().Add(writeWait))
	w.sock.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	w.sock.Close()
}

// conn is one live client connection. roomCode and session are tags owned by
// the server actor; the pumps never touch them.
type conn struct {
	sock    Socket
	out     chan []byte
	limiter *rate.Limiter

	session  string
	roomCode string

	closeOnce sync.Once
}

func newConn(sock Socket) *conn {
	return &conn{
		sock: sock,
		out:  make(chan []byte, outboundBuffer),
		// Generous enough for a hot cast phase, tight enough to stop a
		// misbehaving client from flooding the actor.
		limiter: rate.NewLimiter(20, 40),
	}
}

// send queues an envelope for the write pump. A receiver that cannot drain
// its buffer is cut off rather than silently skipped.
func (c *conn) send(env protocol.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		c.close("slow consumer")
		return false
	}
}

func (c *conn) close(reason string) {
	c.closeOnce.Do(func() {
		c.sock.Close(reason)
	})
}

// readPump parses inbound envelopes and hands them to the server actor. It
// exits on the first read error, which is also how disconnects are detected.
func (c *conn) readPump(s *Server) {
	defer func() { s.disconnects <- c }()

	for {
		data, err := c.sock.Read()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		s.inbox <- inboundMsg{conn: c, env: env}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.sock.Write(data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.Ping(); err != nil {
				return
			}
		}
	}
}
