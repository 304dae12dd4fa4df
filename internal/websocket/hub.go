// Package websocket provides WebSocket connection management and message broadcasting.
package websocket

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 256

	// Version marks not refreshed within markTTL are dropped. An event that
	// arrives later than that is delivered as if it were the first.
	markTTL           = 10 * time.Minute
	markPruneInterval = time.Minute
)

// Metrics observes hub activity.
type Metrics interface {
	NotificationDropped()
	ClientsConnected(n int)
}

type nopMetrics struct{}

func (nopMetrics) NotificationDropped() {}
func (nopMetrics) ClientsConnected(int) {}

// Envelope is an encoded message together with the routing data the hub needs.
// SlotID and Version are set for slot events; LotID is empty for global messages.
type Envelope struct {
	LotID   string
	SlotID  string
	Version int64
	Data    []byte
	// Forget drops the hub's version marks for LotID after delivery.
	Forget bool
	// ForgetSlots drops the version marks of the listed slots.
	ForgetSlots []string
}

type slotMark struct {
	lotID   string
	version int64
	seen    time.Time
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages waiting for fan-out
	broadcast chan Envelope

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Highest version delivered per slot; owned by Run
	marks map[string]slotMark

	done    chan struct{}
	now     func() time.Time
	logger  pslog.Logger
	metrics Metrics

	// Mutex for thread-safe client access
	mu sync.RWMutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger pslog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHubMetrics sets the hub metrics sink.
func WithHubMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Envelope, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		marks:      make(map[string]slotMark),
		done:       make(chan struct{}),
		now:        time.Now,
		logger:     pslog.NoopLogger(),
		metrics:    nopMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main event loop and returns when ctx is cancelled.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	prune := time.NewTicker(markPruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-prune.C:
			h.pruneMarks()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.ClientsConnected(n)
			h.logger.Debug("ws.client.connected", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.ClientsConnected(n)
			h.logger.Debug("ws.client.disconnected", "clients", n)

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env Envelope) {
	if env.SlotID != "" {
		if mark, ok := h.marks[env.SlotID]; ok && env.Version <= mark.version {
			h.logger.Debug("ws.event.stale", "slot_id", env.SlotID, "version", env.Version, "delivered", mark.version)
			return
		}
		h.marks[env.SlotID] = slotMark{lotID: env.LotID, version: env.Version, seen: h.now()}
	}
	for _, id := range env.ForgetSlots {
		delete(h.marks, id)
	}
	if env.Forget {
		for id, mark := range h.marks {
			if mark.lotID == env.LotID {
				delete(h.marks, id)
			}
		}
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.Wants(env.LotID) {
			continue
		}
		select {
		case client.send <- env.Data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	// Client send buffer full, close connection
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.metrics.NotificationDropped()
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.ClientsConnected(n)
	h.logger.Warn("ws.client.evicted", "count", len(slow), "clients", n)
}

// pruneMarks drops version marks idle for longer than markTTL.
func (h *Hub) pruneMarks() {
	cutoff := h.now().Add(-markTTL)
	pruned := 0
	for id, mark := range h.marks {
		if mark.seen.Before(cutoff) {
			delete(h.marks, id)
			pruned++
		}
	}
	if pruned > 0 {
		h.logger.Debug("ws.marks.pruned", "count", pruned, "remaining", len(h.marks))
	}
}

// Publish queues an envelope for delivery. It never blocks: when the queue is
// full the envelope is dropped.
func (h *Hub) Publish(env Envelope) {
	select {
	case h.broadcast <- env:
	default:
		h.metrics.NotificationDropped()
		h.logger.Warn("ws.broadcast.dropped", "lot_id", env.LotID, "slot_id", env.SlotID)
	}
}

// Broadcast sends a message to all connected clients regardless of subscriptions.
func (h *Hub) Broadcast(message []byte) {
	h.Publish(Envelope{Data: message})
}

// Register adds a client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed after Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	send chan []byte

	mu   sync.RWMutex
	lots map[string]bool
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, clientBuffer),
		lots: make(map[string]bool),
	}
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}

// Subscribe limits delivery to events of the given lots.
func (c *Client) Subscribe(lotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lots[lotID] = true
}

// Unsubscribe removes a lot subscription. A client with no subscriptions
// receives every event.
func (c *Client) Unsubscribe(lotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lots, lotID)
}

// Subscriptions returns the lots the client is subscribed to.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.lots))
	for id := range c.lots {
		out = append(out, id)
	}
	return out
}

// Wants reports whether an event for lotID should reach the client.
// Global messages have an empty lotID and reach everyone.
func (c *Client) Wants(lotID string) bool {
	if lotID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lots) == 0 || c.lots[lotID]
}

// Reply queues a direct response to this client without blocking.
// It reports false when the client's buffer is full.
func (c *Client) Reply(message []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}
