// Package ws pushes normalized market events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	broadcastSize  = 1024
)

// defaultChannels are subscribed for every new client. Books are opt-in.
var defaultChannels = []string{"rate:*", "trade:*"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Channel returns the hub channel an event is delivered on, such as
// "rate:BTCJPY" or "book:FXBTCJPY".
func Channel(ev domain.Event) string {
	var prefix string
	switch ev.Kind() {
	case domain.KindRate:
		prefix = "rate"
	case domain.KindMarketBook:
		prefix = "book"
	case domain.KindMarketTrade:
		prefix = "trade"
	default:
		prefix = strings.ToLower(string(ev.Kind()))
	}
	return prefix + ":" + ev.Symbol()
}

// envelope is the frame sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// subscribeMsg is what clients send to change their subscriptions:
// {"action":"subscribe","channels":["book:BTCJPY"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Config carries process metadata reported to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub is an event sink that broadcasts events to subscribed WebSocket
// clients. Accept never blocks: when the hub or a client falls behind,
// messages are dropped and counted.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	clients map[*client]bool

	done    chan struct{}
	dropped atomic.Int64
}

var _ domain.EventSink = (*Hub)(nil)

// NewHub creates a Hub. Run must be started before clients connect.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		broadcast:  make(chan broadcastMsg, broadcastSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
		done:       make(chan struct{}),
	}
}

// Accept encodes ev and queues it for broadcast.
func (h *Hub) Accept(_ context.Context, ev domain.Event) error {
	ch := Channel(ev)
	data, err := json.Marshal(envelope{Type: string(ev.Kind()), Channel: ch, Payload: ev})
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", ch, err)
	}
	select {
	case h.broadcast <- broadcastMsg{channel: ch, data: data}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of messages dropped for slow consumers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Run distributes broadcasts until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.subscribed(msg.channel) {
					c.queue(msg.data)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	c.queue(h.statusFrame())

	go c.writePump()
	go c.readPump()
}

func (h *Hub) statusFrame() []byte {
	data, _ := json.Marshal(envelope{
		Type: "hub_status",
		Payload: map[string]any{
			"mode":           h.cfg.Mode,
			"started_at":     h.cfg.StartedAt,
			"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
			"channels":       defaultChannels,
		},
	})
	return data
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	subs   map[string]bool
	closed bool
}

// queue sends data unless the client is closed or its buffer is full.
func (c *client) queue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || len(sub.Channels) == 0 {
			continue
		}
		switch sub.Action {
		case "subscribe", "unsubscribe":
			c.apply(sub)
		}
	}
}

// apply updates the subscriptions and acknowledges with the full set.
func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	for _, ch := range msg.Channels {
		if msg.Action == "subscribe" {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
	current := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		current = append(current, ch)
	}
	c.mu.Unlock()

	data, _ := json.Marshal(envelope{Type: "subscriptions", Payload: current})
	c.queue(data)
}

// subscribed matches exact channel names and "prefix*" wildcards.
func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
