package signaling

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmp-music/party/internal/metrics"
	"github.com/dmp-music/party/internal/protocol"
	"github.com/dmp-music/party/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server upgrades /ws requests and runs one read loop per connection.
type Server struct {
	handler *Handler
}

func NewServer(h *Handler) *Server {
	return &Server{handler: h}
}

// HandleWS upgrades the request and serves the connection until it closes.
// The request context comes from the HTTP server's BaseContext, so process
// shutdown cancels in-flight relay negotiation.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("signaling: upgrade failed: %v", err)
		return
	}

	conn := newConn(ws)
	util.LogInfo("signaling: connection %08x opened from %s", conn.id, ws.RemoteAddr())

	defer func() {
		s.handler.Disconnected(conn)
		conn.Close()
		util.LogInfo("signaling: connection %08x closed (%s)", conn.id, conn.role)
	}()

	// ── 1. Keepalive: refresh the read deadline on pongs, ping on a ticker ──
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-r.Context().Done():
				conn.Close()
				return
			}
		}
	}()

	// ── 2. Read loop: one message at a time, handled to completion ──
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("signaling: connection %08x read: %v", conn.id, err)
			}
			return
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.SignalingErrors.WithLabelValues("malformed").Inc()
			_ = conn.Send(protocol.Errorf("malformed message: %v", err))
			continue
		}

		s.handler.Handle(r.Context(), conn, msg)
	}
}
