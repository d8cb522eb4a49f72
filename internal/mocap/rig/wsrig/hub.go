package wsrig

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/facecap/internal/monitoring"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// Hub fans frames out to WebSocket viewers. A viewer whose send buffer is
// full is disconnected rather than slowing the broadcaster.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	sent    atomic.Uint64
	evicted atomic.Uint64
}

// NewHub returns an empty hub. Origins are not checked.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer:  sendBuffer,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams frames until the viewer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[wsrig] upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.buffer), addr: r.RemoteAddr}
	if !h.add(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	monitoring.Logf("[wsrig] viewer connected: %s (total: %d)", c.addr, h.Clients())

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

// readLoop discards viewer input and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		removed := h.remove(c)
		h.mu.Unlock()
		c.conn.Close()
		if removed {
			monitoring.Logf("[wsrig] viewer disconnected: %s (total: %d)", c.addr, h.Clients())
		}
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			h.sent.Add(1)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues msg for every viewer without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.remove(c)
			h.evicted.Add(1)
			monitoring.Logf("[wsrig] evicted slow viewer %s", c.addr)
		}
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stats returns frames written and viewers evicted so far.
func (h *Hub) Stats() (sent, evicted uint64) {
	return h.sent.Load(), h.evicted.Load()
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.remove(c)
	}
}
