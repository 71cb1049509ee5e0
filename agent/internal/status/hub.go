package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccotracker/tracker/agent/internal/diag"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The status server binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// RunningFunc reports the engine's running flag.
type RunningFunc func() bool

// Hub pushes diagnostic events to websocket clients.
type Hub struct {
	log         *diag.Log
	running     RunningFunc
	entries     <-chan diag.Entry
	unsubscribe func()

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub subscribed to log. Run must be called to forward
// entries.
func NewHub(log *diag.Log, running RunningFunc) *Hub {
	entries, unsubscribe := log.Subscribe()
	return &Hub{
		log:         log,
		running:     running,
		entries:     entries,
		unsubscribe: unsubscribe,
		clients:     make(map[*client]struct{}),
	}
}

// Run forwards log entries to every client until ctx is cancelled, then
// closes all connections.
func (h *Hub) Run(ctx context.Context) {
	defer h.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-h.entries:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(Message{Event: "event", Data: toEvent(e)})
			if e.Kind == diag.KindState {
				h.broadcast(h.stateMessage())
			}
		}
	}
}

// ServeHTTP upgrades the connection and serves the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	h.join(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) stateMessage() Message {
	return Message{Event: "state", Data: StateResponse{Running: h.running()}}
}

// join registers c and queues its greeting under the same lock, so every
// entry is either in the history or broadcast after it. An entry may arrive
// both ways; clients dedup by seq.
func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range []Message{
		h.stateMessage(),
		{Event: "history", Data: toEvents(h.log.Entries())},
	} {
		if data, err := json.Marshal(m); err == nil {
			c.send <- data
		}
	}
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("status: marshal ws message", "event", m.Event, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full, disconnect it.
			h.unregister(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and sends pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
