package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gridpilot/gridpilot/pkg/log"
)

var upgrader = websocket.Upgrader{
	// the API is local-network only and protected by the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope wraps every websocket message with a type tag.
type wsEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// wsClient is one connected websocket client.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsHub fans snapshots out to connected clients. Slow clients drop
// messages instead of blocking the control loop.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool)}
}

func (h *wsHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *wsHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *wsHub) broadcastJSON(msgType string, payload any) {
	msg, err := json.Marshal(wsEnvelope{Type: msgType, Payload: payload})
	if err != nil {
		slog.Warn("failed to marshal websocket message", slog.Any("error", err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// client buffer full, drop
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// handleWS upgrades the connection, sends the current snapshot and then
// streams tick snapshots until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.wsHub.register(client)
	go client.writePump()

	// send the current state right away so clients don't wait a tick
	if snap, err := json.Marshal(wsEnvelope{Type: "tick", Payload: s.sched.Snapshot()}); err == nil {
		select {
		case client.send <- snap:
		default:
		}
	}

	// the feed is one-way; reads only detect disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.wsHub.unregister(client)
			conn.Close()
			return
		}
	}
}
