// Package signaling runs the WebSocket side of a listening party: one
// long-lived JSON message channel per participant, a handler that drives
// the session state machine, and a best-effort broadcaster for playback
// events.
package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmp-music/party/internal/party"
	"github.com/dmp-music/party/internal/util"
)

// Keepalive tuning for signaling connections.
const (
	writeWait      = 10 * time.Second    // per-message write deadline
	pongWait       = 60 * time.Second    // read deadline, refreshed by pongs
	pingPeriod     = (pongWait * 9) / 10 // must be shorter than pongWait
	maxMessageSize = 64 << 10            // signaling payloads are small
)

// Role classifies a connection on its first meaningful message and never
// changes afterwards.
type Role int

const (
	RoleUnidentified Role = iota
	RoleHost
	RoleListener
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleListener:
		return "listener"
	default:
		return "unidentified"
	}
}

// Conn is one signaling connection together with its role tag. The role,
// session and listenerID fields belong to the connection's read loop;
// Send is the only method other goroutines may call.
type Conn struct {
	ws        *websocket.Conn
	id        uint32 // log tag derived from the remote address
	closeOnce sync.Once

	writeMu sync.Mutex

	role       Role
	session    *party.Session
	listenerID string
}

var _ party.Peer = (*Conn)(nil)

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws: ws,
		id: util.ConnID(ws.RemoteAddr()),
	}
}

// Send writes one JSON message. Safe for concurrent use; a connection that
// cannot take the write within writeWait is treated as dead by its reader.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		return err
	}
	util.Stats.AddMessage()
	return nil
}

// Close shuts the socket. Idempotent; the read loop exits on its own.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
