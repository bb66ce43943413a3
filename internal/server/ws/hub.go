// Package ws streams committed sovereign events to dashboard clients.
//
// Event frames are the bus payloads unchanged (an encoded domain.Event).
// Control frames carry a "type" no event uses:
//
//	{"type":"hello","payload":{...}}          on connect
//	{"type":"replay_done","payload":{...}}    after a since= replay
//	{"type":"subscribed","payload":{...}}     after a filter change
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// Config is reported to clients in the hello frame.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// Hub fans the sovereign event channel out to connected clients.
type Hub struct {
	bus       domain.SignalBus
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      cfg.Mode,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
	}
}

// originChecker admits requests without an Origin header, any origin when
// the list is empty or holds "*", and otherwise only listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	open := len(allowed) == 0 || slices.Contains(allowed, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || open || slices.Contains(allowed, origin)
	}
}

// Run relays the event channel until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	events, err := h.bus.Subscribe(ctx, domain.ChannelSovereignEvents)
	if err != nil {
		h.logger.ErrorContext(ctx, "ws: subscribe failed",
			slog.String("channel", domain.ChannelSovereignEvents),
			slog.String("error", err.Error()),
		)
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				h.logger.WarnContext(ctx, "ws: event subscription closed")
				<-ctx.Done()
				return ctx.Err()
			}
			h.fanOut(ctx, data)
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, data []byte) {
	hdr := headerOf(data)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.filter.wants(hdr) && !c.enqueue(data) {
			h.logger.WarnContext(ctx, "ws: client lagging, frame dropped",
				slog.String("remote", c.remote),
				slog.String("event", string(hdr.Type)),
			)
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.String("remote", c.remote), slog.Int("clients", n))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Info("ws: client disconnected", slog.String("remote", c.remote), slog.Int("clients", n))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request. Query parameters:
//
//	sovereign=<id>   only events for these sovereigns (repeatable)
//	type=<event>     only these event types (repeatable)
//	since=<streamID> first replay stream entries after this id
//
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := newFilter()
	f.apply(subscribeMsg{Action: "subscribe", Sovereigns: parseIDs(q["sovereign"]), Types: q["type"]})

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn, f, r.RemoteAddr)
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	c.control("hello", map[string]any{
		"mode":           h.mode,
		"uptime_seconds": max(int64(time.Since(h.startedAt).Seconds()), 0),
		"channel":        domain.ChannelSovereignEvents,
		"filter":         f.snapshot(),
	})
	if since := q.Get("since"); since != "" {
		c.replay(r.Context(), since)
	}

	go c.writePump()
	go c.readPump()
}

// eventHeader is the part of an encoded domain.Event used for filtering.
type eventHeader struct {
	Type        domain.EventType `json:"type"`
	SovereignID uint64           `json:"sovereign_id"`
}

func headerOf(data []byte) eventHeader {
	var h eventHeader
	_ = json.Unmarshal(data, &h)
	return h
}
