// Package gateway serves participant viewers: a WebSocket stream of dashboard
// updates whose visibility drives polling, plus REST actions.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client message types.
const (
	ClientVisibility = "visibility"
	ClientPollNow    = "poll_now"
)

// Envelope is every server-to-viewer message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type clientMessage struct {
	Type    string `json:"type"`
	Visible *bool  `json:"visible,omitempty"`
}

// Controller is what viewers can drive.
type Controller interface {
	SetVisible(visible bool)
	PollNow()
}

// HubConfig holds configuration for viewer connections.
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	// PollWithoutViewers keeps polling while no viewer is connected.
	PollWithoutViewers bool
	// DeliverTimeout bounds how long Deliver waits for the hub loop.
	DeliverTimeout time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:       10 * time.Second,
		ReadTimeout:        60 * time.Second,
		PingInterval:       30 * time.Second,
		MaxMessageSize:     1024,
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
		CheckOrigin:        func(r *http.Request) bool { return true },
		PollWithoutViewers: true,
		DeliverTimeout:     time.Second,
	}
}

// Hub manages viewer connections.
type Hub struct {
	upgrader    websocket.Upgrader
	config      HubConfig
	controller  Controller
	initial     func() []Envelope
	broadcastCh chan outbound
	running     atomic.Bool

	mu          sync.RWMutex
	connections map[*Connection]bool
	visible     bool
}

type outbound struct {
	data []byte
	// ack receives the number of viewers the message was queued for.
	ack chan<- int
}

// Connection is one viewer.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	hub     *Hub
	visible bool

	ConnectedAt time.Time
}

func NewHub(config HubConfig, controller Controller) *Hub {
	if config.DeliverTimeout <= 0 {
		config.DeliverTimeout = time.Second
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		controller:  controller,
		broadcastCh: make(chan outbound, 256),
		connections: make(map[*Connection]bool),
		visible:     config.PollWithoutViewers,
	}
}

// SetInitial sets the messages sent to each viewer on connect.
func (h *Hub) SetInitial(fn func() []Envelope) { h.initial = fn }

// Start delivers broadcasts until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("viewer hub started")
	h.running.Store(true)
	defer h.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("viewer hub shutting down")
			return
		case msg := <-h.broadcastCh:
			n := h.deliver(msg.data)
			if msg.ack != nil {
				msg.ack <- n
			}
		}
	}
}

// Broadcast queues a message for every viewer.
func (h *Hub) Broadcast(msgType string, payload any) {
	data, err := json.Marshal(Envelope{Type: msgType, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal viewer message")
		return
	}
	select {
	case h.broadcastCh <- outbound{data: data}:
	default:
		log.Warn().Str("type", msgType).Msg("broadcast channel full, dropping message")
	}
}

// Deliver queues a message behind earlier broadcasts and reports whether at
// least one viewer received it. It returns false without queueing when the
// hub is not running.
func (h *Hub) Deliver(msgType string, payload any) bool {
	if !h.running.Load() {
		return false
	}
	data, err := json.Marshal(Envelope{Type: msgType, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal viewer message")
		return false
	}
	ack := make(chan int, 1)
	select {
	case h.broadcastCh <- outbound{data: data, ack: ack}:
	default:
		log.Warn().Str("type", msgType).Msg("broadcast channel full, deferring message")
		return false
	}

	timer := time.NewTimer(h.config.DeliverTimeout)
	defer timer.Stop()
	select {
	case n := <-ack:
		return n > 0
	case <-timer.C:
		return false
	}
}

// Upgrade turns an HTTP request into a viewer connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 64),
		hub:         h,
		visible:     true,
		ConnectedAt: time.Now(),
	}
	if h.initial != nil {
		for _, env := range h.initial() {
			if data, err := json.Marshal(env); err == nil {
				c.Send <- data
			}
		}
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().Str("connection_id", c.ID).Msg("viewer connected")
	return nil
}

// Stats reports connection counts.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	visible := 0
	for c := range h.connections {
		if c.visible {
			visible++
		}
	}
	return map[string]any{
		"connections": len(h.connections),
		"visible":     visible,
		"polling":     h.visible,
	}
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c] = true
	changed, visible := h.recomputeLocked()
	h.mu.Unlock()
	h.notify(changed, visible)
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, c)
	close(c.Send)
	changed, visible := h.recomputeLocked()
	h.mu.Unlock()

	log.Info().Str("connection_id", c.ID).Msg("viewer disconnected")
	h.notify(changed, visible)
}

func (h *Hub) setVisible(c *Connection, visible bool) {
	h.mu.Lock()
	if _, ok := h.connections[c]; !ok {
		h.mu.Unlock()
		return
	}
	c.visible = visible
	changed, v := h.recomputeLocked()
	h.mu.Unlock()
	h.notify(changed, v)
}

// recomputeLocked derives loop visibility: any visible viewer, or no viewers at
// all when polling without viewers is enabled.
func (h *Hub) recomputeLocked() (bool, bool) {
	visible := len(h.connections) == 0 && h.config.PollWithoutViewers
	for c := range h.connections {
		if c.visible {
			visible = true
			break
		}
	}
	if visible == h.visible {
		return false, visible
	}
	h.visible = visible
	return true, visible
}

func (h *Hub) notify(changed, visible bool) {
	if changed && h.controller != nil {
		h.controller.SetVisible(visible)
	}
}

func (h *Hub) deliver(data []byte) int {
	// Sends happen under the read lock so unregister cannot close a channel mid-send.
	var slow []*Connection
	sent := 0
	h.mu.RLock()
	for c := range h.connections {
		select {
		case c.Send <- data:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("connection_id", c.ID).Msg("viewer send buffer full, closing connection")
		h.unregister(c)
		c.Conn.Close()
	}
	return sent
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Conn.Close()
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write to viewer")
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected viewer close")
			}
			return
		}
		c.handleClientMessage(message)
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring malformed viewer message")
		return
	}
	switch msg.Type {
	case ClientVisibility:
		if msg.Visible != nil {
			c.hub.setVisible(c, *msg.Visible)
		}
	case ClientPollNow:
		if c.hub.controller != nil {
			c.hub.controller.PollNow()
		}
	default:
		log.Debug().Str("connection_id", c.ID).Str("type", msg.Type).Msg("unknown viewer message")
	}
}
