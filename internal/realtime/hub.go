// Package realtime provides WebSocket streaming of alert activity.
//
// Every user owns one logical channel. A client connects with its user
// ID and always receives that channel; a reviewer can additionally
// watch the channels of protected parties it is trusted by. Watch
// requests are verified against the trust graph at subscription time.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/safepay/guard/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Event types pushed over the wire.
const (
	EventAlertNew    = "alert:new"
	EventAlertUpdate = "alert:update"
)

// Event is one realtime message.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Authorizer verifies watch requests against the trust graph.
// Satisfied by *trust.Service.
type Authorizer interface {
	IsAuthorized(ctx context.Context, actorID, protectedID string) (bool, error)
}

// watchRequest is the only client→server message: the set of protected
// parties the client wants to watch in addition to its own channel.
type watchRequest struct {
	Watch []string `json:"watch"`
}

// Client is one WebSocket connection bound to a user.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	mu       sync.RWMutex
	channels map[string]bool // userID channels this client receives
}

// subscribed reports whether the client listens on any of the channels.
func (c *Client) subscribed(userIDs []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range userIDs {
		if c.channels[id] {
			return true
		}
	}
	return false
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

type publishMsg struct {
	recipients []string
	data       []byte
}

// Hub manages all WebSocket connections. The client registry is only
// touched inside Run, so connect, disconnect, and publish serialize
// through one goroutine.
type Hub struct {
	clients    map[*Client]bool
	publish    chan publishMsg
	register   chan *Client
	unregister chan *Client
	auth       Authorizer
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	count      atomic.Int64  // connection count for the limit check outside Run
}

// NewHub creates a new WebSocket hub.
func NewHub(auth Authorizer, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		publish:    make(chan publishMsg, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		auth:       auth,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.count.Store(0)
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			n := h.count.Add(1)
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "user_id", client.userID, "total", n)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				n := h.count.Add(-1)
				metrics.ActiveWebSocketClients.Set(float64(n))
				h.logger.Info("client disconnected", "user_id", client.userID, "total", n)
			}

		case msg := <-h.publish:
			var slow []*Client
			for client := range h.clients {
				if !client.subscribed(msg.recipients) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			// A slow client never blocks fanout; it gets dropped.
			for _, client := range slow {
				if _, ok := h.clients[client]; ok {
					close(client.send)
					delete(h.clients, client)
					n := h.count.Add(-1)
					metrics.ActiveWebSocketClients.Set(float64(n))
					h.logger.Warn("slow client dropped", "user_id", client.userID)
				}
			}
		}
	}
}

// Publish pushes an event to every client subscribed to any of the
// recipient channels. Fire-and-forget: a full hub queue drops the event.
func (h *Hub) Publish(event *Event, recipients []string) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize event", "type", event.Type, "error", err)
		return
	}
	select {
	case h.publish <- publishMsg{recipients: recipients, data: data}:
	default:
		h.logger.Warn("publish channel full, dropping event", "type", event.Type)
	}
}

// HandleWebSocket upgrades HTTP to WebSocket. The connecting user's ID
// arrives in the X-User-ID header or the user_id query parameter.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "user identity required", http.StatusUnauthorized)
		return
	}

	if h.count.Load() >= MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		channels: map[string]bool{userID: true},
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump reads watch requests from the WebSocket.
func (c *Client) readPump() {
	defer func() {
		// After Run exits nothing drains unregister; done unblocks the
		// handoff so the pump can exit instead of parking forever.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var req watchRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		c.applyWatch(req.Watch)
	}
}

// applyWatch rebuilds the client's channel set: its own channel plus
// every requested protected party the trust graph authorizes right now.
func (c *Client) applyWatch(watch []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channels := map[string]bool{c.userID: true}
	for _, protectedID := range watch {
		ok, err := c.hub.auth.IsAuthorized(ctx, c.userID, protectedID)
		if err != nil {
			c.hub.logger.Warn("watch authorization failed", "user_id", c.userID, "protected_id", protectedID, "error", err)
			continue
		}
		if ok {
			channels[protectedID] = true
		}
	}

	c.mu.Lock()
	c.channels = channels
	c.mu.Unlock()
}

// writePump writes messages to the WebSocket.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
