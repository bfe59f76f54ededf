// Package fanout implements FanOut (spec §4.7): the bidirectional
// per-client WebSocket hub that relays engine events to subscribed
// clients and accepts a small set of client-to-server control messages.
package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paneforge/clock"
	"paneforge/events"
	"paneforge/supervisor"
)

// ClientMessage is a client -> server message, discriminated by Type.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
}

// ServerMessage is a server -> client message, discriminated by Type.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}

const maxInputTextLen = 10_000

// Config tunes heartbeat, rate limiting, and replay behavior.
type Config struct {
	PingInterval     time.Duration
	ConnectionTimeout time.Duration
	RateLimitMax     int
	RateLimitWindow  time.Duration
	ReplayLines      int
	MaxMessageBytes  int64
}

func defaultConfig(cfg Config) Config {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 60 * time.Second
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 10 * time.Second
	}
	if cfg.ReplayLines <= 0 {
		cfg.ReplayLines = 100
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	return cfg
}

// Hub is the FanOut component: a websocket.Upgrader plus the set of
// connected clients.
type Hub struct {
	upgrader websocket.Upgrader

	bus        *events.Bus
	supervisor *supervisor.Supervisor
	clk        clock.Clock
	cfg        Config

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New constructs a Hub.
func New(bus *events.Bus, sup *supervisor.Supervisor, clk clock.Clock, cfg Config) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bus:        bus,
		supervisor: sup,
		clk:        clk,
		cfg:        defaultConfig(cfg),
		clients:    make(map[*client]struct{}),
	}
}

type client struct {
	conn *websocket.Conn
	out  chan ServerMessage

	mu            sync.Mutex
	subscriptions map[string]bool

	rateMu    sync.Mutex
	rateCount int
	rateStart time.Time
}

// ServeHTTP upgrades the connection and runs its read/write tasks until
// the client disconnects or is dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	c := &client{
		conn:          conn,
		out:           make(chan ServerMessage, 256),
		subscriptions: make(map[string]bool),
		rateStart:     h.clk.Now(),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	sub := h.bus.Subscribe(256)
	defer func() {
		h.bus.Unsubscribe(sub)
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	go h.writeLoop(c, done)
	go h.relayLoop(c, sub, done)

	h.readLoop(c, done)
}

// readLoop is the per-client read task: it parses and dispatches client
// messages, enforcing the rate limit and message-size bound.
func (h *Hub) readLoop(c *client, done chan struct{}) {
	defer close(done)
	for {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if int64(len(data)) > h.cfg.MaxMessageBytes {
			c.send(ServerMessage{Type: "error", Error: "INVALID_MESSAGE"})
			return
		}
		if !h.checkRateLimit(c) {
			c.send(ServerMessage{Type: "error", Error: "RATE_LIMITED"})
			c.conn.Close()
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(ServerMessage{Type: "error", Error: "INVALID_MESSAGE"})
			continue
		}
		h.handleClientMessage(c, msg)
	}
}

func (h *Hub) checkRateLimit(c *client) bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	now := h.clk.Now()
	if now.Sub(c.rateStart) > h.cfg.RateLimitWindow {
		c.rateStart = now
		c.rateCount = 0
	}
	c.rateCount++
	return c.rateCount <= h.cfg.RateLimitMax
}

func (h *Hub) handleClientMessage(c *client, msg ClientMessage) {
	switch msg.Type {
	case "session:subscribe":
		c.mu.Lock()
		c.subscriptions[msg.SessionID] = true
		c.mu.Unlock()
		lines, _ := h.supervisor.GetOutput(msg.SessionID, h.cfg.ReplayLines)
		c.send(ServerMessage{Type: "subscribed", SessionID: msg.SessionID, Payload: lines})
	case "session:unsubscribe":
		c.mu.Lock()
		delete(c.subscriptions, msg.SessionID)
		c.mu.Unlock()
		c.send(ServerMessage{Type: "unsubscribed", SessionID: msg.SessionID})
	case "session:input":
		if len(msg.Text) > maxInputTextLen {
			c.send(ServerMessage{Type: "error", SessionID: msg.SessionID, Error: "INVALID_MESSAGE"})
			return
		}
		if err := h.supervisor.SendInput(context.Background(), msg.SessionID, msg.Text); err != nil {
			c.send(ServerMessage{Type: "error", SessionID: msg.SessionID, Error: err.Error()})
		}
	case "ping":
		c.send(ServerMessage{Type: "pong"})
	default:
		c.send(ServerMessage{Type: "error", Error: "INVALID_MESSAGE"})
	}
}

// relayLoop forwards bus events to this client if it is subscribed to the
// event's session (events with no SessionID, e.g. ticket.state, go to
// every client).
func (h *Hub) relayLoop(c *client, sub *events.Subscriber, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.mu.Lock()
			subscribed := ev.SessionID == "" || c.subscriptions[ev.SessionID]
			c.mu.Unlock()
			if !subscribed {
				continue
			}
			c.send(ServerMessage{Type: string(ev.Kind), SessionID: ev.SessionID, Payload: ev.Payload})
		}
	}
}

// writeLoop is the per-client write task: it drains c.out to the socket
// and sends periodic pings. A client that sends nothing for
// ConnectionTimeout is dropped by readLoop's read deadline.
func (h *Hub) writeLoop(c *client, done chan struct{}) {
	ticker := h.clk.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	lastActivity := h.clk.Now()

	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			if h.clk.Now().Sub(lastActivity) > h.cfg.ConnectionTimeout {
				c.conn.Close()
				return
			}
			c.send(ServerMessage{Type: "ping"})
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			lastActivity = h.clk.Now()
			deadline := time.Now().Add(5 * time.Second)
			c.conn.SetWriteDeadline(deadline)
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// send enqueues a message for the client's write task. If the outgoing
// queue is full the client is dropped by closing its connection
// (per-client backpressure, spec §5).
func (c *client) send(msg ServerMessage) {
	select {
	case c.out <- msg:
	default:
		c.conn.Close()
	}
}
