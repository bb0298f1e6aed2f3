package garagepi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const wsWriteWait = 5 * time.Second

// message is what the hub sends to clients.
type message interface {
	kind() string
}

func (SensorReading) kind() string { return "reading" }
func (StatusMessage) kind() string { return "status" }

// Hub serves /ws and pushes readings and status changes to every connected
// client. It runs no goroutine of its own: the owner calls send from a
// single loop and Close when that loop ends.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // readings are public on the LAN
			},
		},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	if !h.add(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}
	log.WithField("remote", r.RemoteAddr).Info("websocket client connected")
	defer func() {
		h.remove(conn)
		log.WithField("remote", r.RemoteAddr).Info("websocket client disconnected")
	}()

	// Clients send nothing; reading only notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[conn] = struct{}{}
	return true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// send writes m to every client. A client that cannot take the message
// within wsWriteWait is dropped.
func (h *Hub) send(m message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.WithError(err).Errorf("marshal %s message", m.kind())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithError(err).Warnf("dropping websocket client %s", conn.RemoteAddr())
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	bye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(wsWriteWait))
		conn.Close()
		delete(h.clients, conn)
	}
}
