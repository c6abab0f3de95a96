// Package events fans registry and queue changes out to websocket viewers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Kind names an event on the feed.
type Kind string

const (
	KindRecordUpdated      Kind = "record_updated"
	KindRecordRemoved      Kind = "record_removed"
	KindRegistryCleared    Kind = "registry_cleared"
	KindQueueState         Kind = "queue_state"
	KindCredentialRequired Kind = "credential_required"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	bufferedSize = 64
)

// Event is one message on the feed.
type Event struct {
	Type Kind      `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Publisher accepts events. Publish never blocks.
type Publisher interface {
	Publish(kind Kind, data any)
}

// Hub keeps the set of connected viewers and broadcasts events to them.
// A single Run goroutine owns all writes to the connections.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewHub builds a hub. allowOrigin decides websocket origin checks; nil
// allows every origin.
func NewHub(logger zerolog.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	if allowOrigin == nil {
		allowOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan Event, bufferedSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader:   websocket.Upgrader{CheckOrigin: allowOrigin},
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("events: viewer connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("events: viewer disconnected")

		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("events: marshal event failed")
				continue
			}
			h.writeAll(websocket.TextMessage, payload)

		case <-ticker.C:
			h.writeAll(websocket.PingMessage, nil)
		}
	}
}

func (h *Hub) writeAll(messageType int, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(messageType, payload); err != nil {
			h.logger.Debug().Err(err).Msg("events: dropping viewer after write error")
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// Publish queues an event for broadcast. When the buffer is full the event
// is dropped; viewers resynchronise from GET /v1/images.
func (h *Hub) Publish(kind Kind, data any) {
	ev := Event{Type: kind, Data: data, At: time.Now().UTC()}
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn().Str("type", string(kind)).Msg("events: broadcast buffer full, dropping event")
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the viewer registered until it
// disconnects. Viewers never send data; reads only service control frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("events: websocket upgrade failed")
		return
	}
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
			conn.Close()
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Msg("events: viewer read ended")
			}
			return
		}
	}
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(Kind, any) {}

var (
	_ Publisher = (*Hub)(nil)
	_ Publisher = Discard{}
)
