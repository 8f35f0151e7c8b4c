// Package ws pushes order lifecycle events to websocket clients. Each client
// authenticates with a wallet session token and only receives events for
// that wallet, plus global trading halt and resume events.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// TokenVerifier checks a session token and returns its wallet.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Config configures a Hub.
type Config struct {
	// Channel is the pub/sub channel carrying JSON encoded order events from
	// every replica. When empty, or when the hub has no bus, events are only
	// delivered through Publish.
	Channel string
	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	wallet string
	send   chan []byte

	mu    sync.RWMutex
	types map[domain.EventType]bool // empty means every type
}

// subscribeMsg is the JSON message a client sends to narrow or widen the
// event types it receives.
type subscribeMsg struct {
	Action string             `json:"action"` // "subscribe" or "unsubscribe"
	Events []domain.EventType `json:"events"`
}

// envelope is the frame sent to clients.
type envelope struct {
	Type    domain.EventType  `json:"type"`
	Payload domain.OrderEvent `json:"payload"`
}

// Hub fans order events out to connected websocket clients. It implements
// domain.EventSink for single-process deployments and can also consume the
// shared event channel so every replica's clients see every event.
type Hub struct {
	bus      domain.SignalBus
	verifier TokenVerifier
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

var _ domain.EventSink = (*Hub)(nil)

// NewHub creates a Hub. bus may be nil.
func NewHub(bus domain.SignalBus, verifier TokenVerifier, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:      bus,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ws_hub")),
		clients:  make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Publish delivers event to the matching local clients.
func (h *Hub) Publish(_ context.Context, event domain.OrderEvent) error {
	h.dispatch(event)
	return nil
}

// Run consumes the shared event channel until ctx is cancelled, then closes
// every client. Without a bus it only waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.cfg.Channel != "" {
		msgs, err := h.bus.Subscribe(ctx, h.cfg.Channel)
		if err != nil {
			return err
		}
		h.logger.Info("subscribed to event channel", slog.String("channel", h.cfg.Channel))
		go h.consume(ctx, msgs)
	}

	<-ctx.Done()
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) consume(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("event channel subscription closed")
				return
			}
			var event domain.OrderEvent
			if err := json.Unmarshal(data, &event); err != nil {
				h.logger.Warn("dropping malformed event", slog.String("error", err.Error()))
				continue
			}
			h.dispatch(event)
		}
	}
}

func (h *Hub) dispatch(event domain.OrderEvent) {
	data, err := json.Marshal(envelope{Type: event.Type, Payload: event})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping event for slow client", slog.String("wallet", c.wallet))
		}
	}
}

// HandleWS authenticates the caller, upgrades the connection and registers
// the client.
// GET /ws?token=...
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	wallet, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, `{"error":"invalid authentication token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		wallet: wallet,
		send:   make(chan []byte, sendBufferSize),
		types:  make(map[domain.EventType]bool),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.String("wallet", c.wallet), slog.Int("total_clients", n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.String("wallet", c.wallet), slog.Int("total_clients", n))
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// wants reports whether the event is for this client's wallet (or is a
// wallet-less control event) and of a subscribed type.
func (c *client) wants(event domain.OrderEvent) bool {
	if event.Wallet != "" && !strings.EqualFold(event.Wallet, c.wallet) {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) == 0 || c.types[event.Type]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Events {
			c.types[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Events {
			delete(c.types, t)
		}
	}
}

// readPump reads subscription changes until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// writePump sends queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
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
