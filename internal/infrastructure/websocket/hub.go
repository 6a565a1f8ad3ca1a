// Package websocket broadcasts live cell events to subscribed clients.
package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is the wire envelope broadcast to clients.
type Event struct {
	Type    string `json:"type"`
	TableID string `json:"table_id"`
	RowID   string `json:"row_id,omitempty"`
	Column  string `json:"column,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Event types.
const (
	EventCellChunk      = "cell.chunk"
	EventCellReferences = "cell.references"
	EventRowCompleted   = "row.completed"
)

// Hub tracks connected clients and fans events out to subscribers of each
// table. A client whose send buffer is full misses events rather than
// stalling the execution path; clients are removed when a write fails.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

type client struct {
	conn    *websocket.Conn
	tableID string
	send    chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Subscribe upgrades the HTTP request to a websocket subscribed to one
// table's events.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, tableID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, tableID: tableID, send: make(chan Event, 256)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) writePump(c *client) {
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			log.Debug().Err(err).Msg("Websocket write failed, dropping client")
			h.remove(c)
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends the event to every subscriber of its table. Non-blocking:
// clients with a full buffer miss the event.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.tableID != "" && c.tableID != event.TableID {
			continue
		}
		select {
		case c.send <- event:
		default:
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}
