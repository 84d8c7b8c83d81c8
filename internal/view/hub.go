// Package view serves the browser previews over websockets.
//
// Each connection is bound to one document. The hub fans host messages out
// to every view of a document and hands inbound view messages to a Handler.
package view

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/metrics"
	"github.com/dotpreview-project/dotpreview/pkg/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendBuffer     = 32
)

// Handler connects the hub to the preview host. Its methods are called from
// connection goroutines.
type Handler interface {
	// Resolve maps an upgrade request to the identity of an open document.
	Resolve(r *http.Request) (string, error)
	OnConnect(c *Client)
	OnDisconnect(c *Client)
	OnMessage(c *Client, msg model.Message)
}

// Options tunes a Hub.
type Options struct {
	// MessageRate and MessageBurst limit inbound messages per client.
	MessageRate  rate.Limit
	MessageBurst int
	Metrics      *metrics.Registry
	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(r *http.Request) bool
}

// Hub tracks the views of every document.
type Hub struct {
	handler  Handler
	opts     Options
	upgrader websocket.Upgrader
	log      *logging.Logger
	dropLog  rate.Sometimes

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	closed  bool
}

// NewHub creates a hub that reports to h.
func NewHub(h Handler, opts Options) *Hub {
	if opts.MessageRate == 0 {
		opts.MessageRate = 50
	}
	if opts.MessageBurst == 0 {
		opts.MessageBurst = 100
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	return &Hub{
		handler: h,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		log:     logging.Component("view"),
		dropLog: rate.Sometimes{Interval: 10 * time.Second},
		clients: make(map[string]map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.handler.Resolve(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errclass.ErrDocumentNotOpen) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.log.WarnErr("websocket upgrade failed", err)
		return
	}

	c := &Client{
		id:       uuid.NewString(),
		identity: identity,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		limiter:  rate.NewLimiter(h.opts.MessageRate, h.opts.MessageBurst),
		done:     make(chan struct{}),
	}
	c.visible.Store(true)

	if !h.register(c) {
		conn.Close()
		return
	}
	h.opts.Metrics.ClientConnected()
	h.log.Info("view connected", map[string]any{"document": identity, "client": c.id})
	h.handler.OnConnect(c)

	go c.writePump()
	c.readPump()
}

// Broadcast sends msg to every view of identity and returns how many
// views it was queued for.
func (h *Hub) Broadcast(identity string, msg model.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.ErrorErr("encode message", err, map[string]any{"command": string(msg.Command)})
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients[identity] {
		if c.enqueue(data) {
			n++
		}
	}
	return n
}

// Clients returns the number of views connected to identity.
func (h *Hub) Clients(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identity])
}

// Visible reports whether any view of identity can be seen.
func (h *Hub) Visible(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[identity] {
		if c.Visible() {
			return true
		}
	}
	return false
}

// CloseDocument disconnects every view of identity.
func (h *Hub) CloseDocument(identity string) {
	h.mu.RLock()
	var list []*Client
	for c := range h.clients[identity] {
		list = append(list, c)
	}
	h.mu.RUnlock()
	for _, c := range list {
		c.Close()
	}
}

// Close disconnects every view and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var list []*Client
	for _, set := range h.clients {
		for c := range set {
			list = append(list, c)
		}
	}
	h.mu.Unlock()
	for _, c := range list {
		c.Close()
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.identity]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.identity] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.identity]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.identity)
	}
	return true
}

// Client is one connected view.
type Client struct {
	id       string
	identity string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	visible  atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

// ID identifies the connection in logs.
func (c *Client) ID() string { return c.id }

// Identity is the document this view shows.
func (c *Client) Identity() string { return c.identity }

// Visible reports the last visibility the view announced.
func (c *Client) Visible() bool { return c.visible.Load() }

// SetVisible records a visibility change.
func (c *Client) SetVisible(v bool) { c.visible.Store(v) }

// Send queues msg for this view only.
func (c *Client) Send(msg model.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

// Close ends the connection. The handler's OnDisconnect runs once the read
// loop has stopped.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.conn.Close()
	})
}

// enqueue never blocks; a view whose queue is full is too slow to keep up
// and is dropped.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.hub.log.Warn("view send queue full, disconnecting", map[string]any{"client": c.id})
		go c.Close()
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		if c.hub.unregister(c) {
			c.hub.opts.Metrics.ClientDisconnected()
			c.hub.log.Info("view disconnected", map[string]any{"document": c.identity, "client": c.id})
			c.hub.handler.OnDisconnect(c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.WarnErr("view read failed", err, map[string]any{"client": c.id})
			}
			return
		}
		if !c.limiter.Allow() {
			c.hub.dropLog.Do(func() {
				c.hub.log.Warn("view exceeds message rate, dropping", map[string]any{"client": c.id})
			})
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Command == "" {
			c.hub.log.Debug("ignoring malformed view message", map[string]any{"client": c.id})
			continue
		}
		if msg.Command == model.CommandVisibility {
			var v model.Visibility
			if err := msg.Decode(&v); err == nil {
				c.SetVisible(v.Visible)
			}
		}
		c.hub.handler.OnMessage(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
