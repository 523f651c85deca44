// Package channel implements the bidirectional, event-typed transport between
// the server and its clients over WebSocket.
//
// Every inbound request is independent: the hub looks up the handler
// registered for the event name, runs it on a bounded worker pool and queues
// the returned envelope for the requesting client. Delivery is at most once;
// a response for a client that has gone away is dropped.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/payloadbench/apiserver/internal/metrics"
)

const (
	defaultSendBuffer = 16
	defaultReadLimit  = 64 << 10
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
)

// Handler produces the response for one inbound request. A nil envelope
// means there is nothing to send. Handlers must not mutate shared state.
type Handler func(ctx context.Context, client *Client, req Envelope) (*Envelope, error)

// Options tunes a Hub. Zero values select defaults.
type Options struct {
	// Workers bounds concurrently running handlers. Defaults to NumCPU.
	Workers int
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int
	// RatePerSecond and Burst configure the per-client inbound token
	// bucket. A zero rate disables limiting.
	RatePerSecond float64
	Burst         int
	// ReadLimit caps the size of an inbound frame.
	ReadLimit int64
	// CheckOrigin is passed to the WebSocket upgrader. Nil allows any origin.
	CheckOrigin func(r *http.Request) bool
}

// Hub owns the connected clients and the event handlers.
type Hub struct {
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	pool     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	clients      map[string]*Client
	handlers     map[string]Handler
	onConnect    []func(*Client)
	onDisconnect []func(*Client)
}

// NewHub constructs a Hub. Register handlers before serving.
func NewHub(opts Options, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		opts:    opts,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     checkOrigin,
		},
		pool:     semaphore.NewWeighted(int64(opts.Workers)),
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[string]*Client),
		handlers: make(map[string]Handler),
	}
}

// Handle registers fn for inbound events named event.
func (h *Hub) Handle(event string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = fn
}

// Events returns the sorted names of the events this hub answers.
func (h *Hub) Events() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	events := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		events = append(events, name)
	}
	sort.Strings(events)
	return events
}

// OnConnect registers a hook run after a client is registered.
func (h *Hub) OnConnect(fn func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

// OnDisconnect registers a hook run after a client is removed.
func (h *Hub) OnDisconnect(fn func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues env for the client with the given id. Sending to an unknown or
// disconnected client returns ErrDeliveryLost.
func (h *Hub) Send(clientID string, env Envelope) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return ErrDeliveryLost
	}
	return c.Send(env)
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("channel upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &Client{
		id:          uuid.NewString(),
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, h.opts.SendBuffer),
		done:        make(chan struct{}),
	}
	if h.opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.RatePerSecond), h.opts.Burst)
	}

	if !h.register(c) {
		c.close()
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writeLoop(c)
	}()
	h.readLoop(c)
	h.unregister(c)
}

// Close disconnects every client and waits for in-flight handlers.
func (h *Hub) Close() {
	h.cancel()
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

// register adds c unless the hub has been closed. Close cancels h.ctx
// before taking its snapshot under h.mu, so a client registered here is
// always seen by Close.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	hooks := slices.Clone(h.onConnect)
	h.mu.Unlock()

	h.metrics.ConnectedClients.Inc()
	h.logger.Info("client connected", "client", c.id, "remote", c.remoteAddr)
	for _, fn := range hooks {
		fn(c)
	}
	return true
}

func (h *Hub) unregister(c *Client) {
	c.close()

	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	hooks := slices.Clone(h.onDisconnect)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.metrics.ConnectedClients.Dec()
	h.logger.Info("client disconnected", "client", c.id, "connected_for", time.Since(c.connectedAt).Round(time.Millisecond))
	for _, fn := range hooks {
		fn(c)
	}
}

func (h *Hub) readLoop(c *Client) {
	c.conn.SetReadLimit(h.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("channel read ended", "client", c.id, "err", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			h.logger.Warn("ignoring non-binary frame", "client", c.id, "type", mt)
			continue
		}
		req, err := UnmarshalEnvelope(frame)
		if err != nil {
			h.logger.Warn("ignoring malformed frame", "client", c.id, "err", err)
			continue
		}
		h.dispatch(c, req)
	}
}

func (h *Hub) dispatch(c *Client, req Envelope) {
	h.mu.RLock()
	fn, ok := h.handlers[req.Event]
	h.mu.RUnlock()

	op := h.metrics.ChannelOps.Start(req.Event)
	if !ok {
		op.Dropped()
		op.End()
		h.logger.Warn("no handler for event", "client", c.id, "event", req.Event)
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		op.Dropped()
		op.End()
		h.logger.Warn("rate limit exceeded", "client", c.id, "event", req.Event)
		return
	}
	if err := h.pool.Acquire(h.ctx, 1); err != nil {
		op.Dropped()
		op.End()
		return
	}

	h.logger.Info("request received", "client", c.id, "event", req.Event)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.pool.Release(1)
		defer op.End()

		resp, err := fn(h.ctx, c, req)
		if err != nil {
			op.Failed()
			h.logger.Error("handler failed", "client", c.id, "event", req.Event, "err", err)
			return
		}
		if resp == nil {
			return
		}
		if err := c.Send(*resp); err != nil {
			if errors.Is(err, ErrDeliveryLost) {
				h.metrics.DeliveryDropped.Inc()
				h.logger.Debug("response dropped", "client", c.id, "event", resp.Event)
				return
			}
			op.Failed()
			h.logger.Error("response not sent", "client", c.id, "event", resp.Event, "err", err)
		}
	}()
}

func (h *Hub) writeLoop(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				h.logger.Debug("channel write failed", "client", c.id, "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
