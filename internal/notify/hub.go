// Package notify fans completed proposals out to live observers over
// WebSocket. Delivery is best-effort: a slow client loses messages instead
// of slowing the completion consumer down.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-proposal-backend/internal/config"
	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/observability"
)

// Topic is the single real-time topic carrying proposal views.
const Topic = "/proposals"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 1 << 10
)

// ErrNotificationFailed is returned when a view cannot be broadcast at all.
var ErrNotificationFailed = errors.New("notify: notification failed")

// Dispatcher publishes a proposal view to the real-time topic.
type Dispatcher interface {
	Notify(ctx context.Context, v domain.ProposalView) error
}

// Envelope is the frame written to every observer.
type Envelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// Hub tracks connected observers and broadcasts to them.
type Hub struct {
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub builds a hub. An empty origin list or "*" accepts any origin.
func NewHub(cfg config.WSConfig) *Hub {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 16
	}
	h := &Hub{
		sendBuffer: buf,
		clients:    map[*client]struct{}{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// ServeHTTP upgrades the request and registers the observer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, h.sendBuffer)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	observability.SetWSClients(len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		observability.SetWSClients(len(h.clients))
	}
	h.mu.Unlock()
	c.close()
}

// Clients returns the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify broadcasts v to every observer. Zero observers is not an error;
// a full client buffer drops the frame for that client only.
func (h *Hub) Notify(ctx context.Context, v domain.ProposalView) (err error) {
	defer func() { observability.ObserveNotification(err) }()

	frame, err := json.Marshal(Envelope{Topic: Topic, Payload: v})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrNotificationFailed, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("%w: hub closed", ErrNotificationFailed)
	}
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			log.Ctx(ctx).Warn().Uint64("proposal_id", v.ID).Msg("observer buffer full; dropping notification")
		}
	}
	return nil
}

// Close disconnects every observer; later Notify calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*client]struct{}{}
	h.closed = true
	observability.SetWSClients(0)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// readPump discards inbound frames and detects disconnects.
func (c *client) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
