// Package stream implements the simulator's server-side websocket
// broadcast hub: it subscribes to the engine's event bus and fans every
// event out to connected /simulator/stream clients (spec §4.M). This is
// an observability surface only; a slow or disconnected client is
// dropped rather than allowed to backpressure the engine.
//
// The hub's register/unregister/broadcast channel loop is grounded on
// the rest of the example pack's server-side gorilla/websocket hub
// (the teacher only ever drives gorilla/websocket as an outbound client
// against Home Assistant), retargeted to forward internal/events.Event
// values instead of arbitrary session messages.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/corvid-labs/envsim/internal/events"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the JSON shape broadcast to every connected client for
// each bus event (spec §4.M).
type Envelope struct {
	Type        string         `json:"type"`
	EventID     string         `json:"event_id,omitempty"`
	Modality    string         `json:"modality,omitempty"`
	Status      string         `json:"status,omitempty"`
	CurrentTime string         `json:"current_time,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Hub manages websocket connections and broadcasts bus events to all of
// them. Call Run in its own goroutine before serving HandleWS.
type Hub struct {
	logger *slog.Logger

	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan Envelope
	mu         sync.RWMutex
}

// NewHub creates a Hub. A nil logger is replaced with slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan Envelope, 256),
	}
}

// Run processes register/unregister/broadcast until stop is closed.
// Intended to run in its own goroutine for the lifetime of the server.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client connected", "clients", count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client disconnected", "clients", count)

		case env := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(env); err != nil {
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Forward subscribes to bus and republishes every event to connected
// clients until stop is closed. Intended to run in its own goroutine
// alongside Run.
func (h *Hub) Forward(bus *events.Bus, stop <-chan struct{}) {
	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-stop:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			h.broadcastEvent(evt)
		}
	}
}

func (h *Hub) broadcastEvent(evt events.Event) {
	env := Envelope{
		Type:        evt.Kind,
		CurrentTime: evt.Timestamp.Format(rfc3339Milli),
		Data:        evt.Data,
	}
	if eventID, ok := evt.Data["event_id"].(string); ok {
		env.EventID = eventID
	}
	if modality, ok := evt.Data["modality"].(string); ok {
		env.Modality = modality
	}
	if status, ok := evt.Data["status"].(string); ok {
		env.Status = status
	}

	select {
	case h.broadcast <- env:
	default:
		h.logger.Warn("stream broadcast channel full, dropping event", "kind", evt.Kind)
	}
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// HandleWS upgrades the request to a websocket and registers the
// connection with the hub. Blocks (in a background goroutine) reading
// from the client only to detect disconnects; the simulator accepts no
// inbound control messages over this stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	h.register <- conn

	welcome, _ := json.Marshal(Envelope{Type: "connected"})
	_ = conn.WriteMessage(websocket.TextMessage, welcome)

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ClientCount reports the number of currently connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
