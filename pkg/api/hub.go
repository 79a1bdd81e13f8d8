package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lucid-vigil/nids-watch/pkg/events"
	"github.com/lucid-vigil/nids-watch/pkg/metrics"
	"github.com/lucid-vigil/nids-watch/pkg/view"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024

	sendBuffer = 16
)

// ModelSource renders the current view model.
type ModelSource func() view.Model

// Hub keeps the dashboard websocket clients and pushes the view model to
// them after every state change.
type Hub struct {
	clients map[*Client]bool
	source  ModelSource
	logger  zerolog.Logger

	notify     chan struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a hub that renders models with source.
func NewHub(source ModelSource, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		source:     source,
		logger:     logger.With().Str("component", "view_hub").Logger(),
		notify:     make(chan struct{}, 1),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast requests until ctx ends.
// It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ViewClients.Set(float64(n))
			h.logger.Debug().Str("client", client.id).Int("clients", n).Msg("View client connected")

			// New clients start from the current state.
			if data, err := h.encode(); err == nil {
				client.offer(data)
			}

		case client := <-h.unregister:
			h.remove(client)

		case <-h.notify:
			message, err := h.encode()
			if err != nil {
				h.logger.Error().Err(err).Msg("Failed to encode view model")
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				if !client.offer(message) {
					h.logger.Warn().Str("client", client.id).Msg("View client too slow, disconnecting")
					delete(h.clients, client)
					close(client.send)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ViewClients.Set(float64(n))
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ViewClients.Set(float64(n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.ViewClients.Set(0)
}

func (h *Hub) encode() ([]byte, error) {
	return json.Marshal(h.source())
}

// Handle implements events.EventHandler. Changes are coalesced: the model
// is rendered when the hub gets to the pending notification, so the latest
// state is always pushed.
func (h *Hub) Handle(_ context.Context, _ events.StateEvent) error {
	select {
	case h.notify <- struct{}{}:
	default:
	}
	return nil
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// GetEventTypes implements events.EventHandler.
func (h *Hub) GetEventTypes() []events.EventType {
	return events.AllEventTypes
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one dashboard websocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  hub,
	}
}

// offer queues message without blocking. Callers hold the hub lock or own
// the client exclusively.
func (c *Client) offer(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// readPump discards client input and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("View client read error")
			}
			return
		}
	}
}

// writePump sends queued models, one frame each, and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
