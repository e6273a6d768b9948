package realtime

import (
	"context"
	"sync"
	"time"

	"crypto-tracker/internal/types"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// Message is the envelope pushed to websocket clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub tracks connected websocket clients and broadcasts to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &client{conn: conn}
	h.mu.Unlock()
	log.Debugf("Websocket client connected from %s", conn.RemoteAddr())
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes v to a single registered client.
func (h *Hub) Send(conn *websocket.Conn, v interface{}) error {
	h.mu.RLock()
	c, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	return c.writeJSON(v)
}

func (h *Hub) BroadcastJSON(v interface{}) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(v); err != nil {
			log.Debugf("Dropping websocket client %s: %v", c.conn.RemoteAddr(), err)
			h.RemoveClient(c.conn)
		}
	}
}

// AlertSink adapts the hub to the notification dispatcher.
type AlertSink struct {
	Hub *Hub
}

func (AlertSink) Name() string { return "websocket" }

func (s AlertSink) Send(_ context.Context, event types.TriggeredEvent) error {
	s.Hub.BroadcastJSON(Message{Type: "alert_triggered", Data: event})
	return nil
}
