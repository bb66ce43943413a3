package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// replayLimit caps how many stream entries a reconnecting client gets;
	// the send buffer holds a full replay plus headroom for live events.
	replayLimit    = 256
	sendBufferSize = 2 * replayLimit
)

// subscribeMsg is sent by a client to change its filter:
//
//	{"action":"subscribe","sovereigns":[3,7],"types":["bonding_complete"]}
//	{"action":"unsubscribe","sovereigns":[3]}
//	{"action":"all"}
type subscribeMsg struct {
	Action     string   `json:"action"`
	Sovereigns []uint64 `json:"sovereigns"`
	Types      []string `json:"types"`
}

// filter selects events for one client. An empty set matches everything.
// Protocol events (sovereign 0) pass the sovereign filter.
type filter struct {
	mu         sync.RWMutex
	sovereigns map[uint64]bool
	types      map[domain.EventType]bool
}

func newFilter() *filter {
	return &filter{sovereigns: map[uint64]bool{}, types: map[domain.EventType]bool{}}
}

func (f *filter) wants(h eventHeader) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if h.SovereignID != 0 && len(f.sovereigns) > 0 && !f.sovereigns[h.SovereignID] {
		return false
	}
	return len(f.types) == 0 || f.types[h.Type]
}

// apply changes the filter and reports whether msg was understood.
func (f *filter) apply(msg subscribeMsg) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Sovereigns {
			f.sovereigns[id] = true
		}
		for _, t := range msg.Types {
			f.types[domain.EventType(t)] = true
		}
	case "unsubscribe":
		for _, id := range msg.Sovereigns {
			delete(f.sovereigns, id)
		}
		for _, t := range msg.Types {
			delete(f.types, domain.EventType(t))
		}
	case "all":
		clear(f.sovereigns)
		clear(f.types)
	default:
		return false
	}
	return true
}

func (f *filter) snapshot() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]uint64, 0, len(f.sovereigns))
	for id := range f.sovereigns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	types := make([]string, 0, len(f.types))
	for t := range f.types {
		types = append(types, string(t))
	}
	slices.Sort(types)
	return map[string]any{"sovereigns": ids, "types": types}
}

func parseIDs(vals []string) []uint64 {
	var ids []uint64
	for _, v := range vals {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// client is one WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	filter *filter
	remote string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, f *filter, remote string) *client {
	return &client{
		hub:    h,
		conn:   conn,
		filter: f,
		remote: remote,
		send:   make(chan []byte, sendBufferSize),
	}
}

// enqueue queues a frame without blocking. It reports false when the
// buffer is full or the client is gone.
func (c *client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
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

func (c *client) control(kind string, payload any) {
	frame, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	if err == nil {
		c.enqueue(frame)
	}
}

// replay queues stream entries after lastID and then a replay_done frame
// with the last id seen, which the client can pass as since= next time.
func (c *client) replay(ctx context.Context, lastID string) {
	msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamSovereignEvents, lastID, replayLimit)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("since", lastID), slog.String("error", err.Error()))
		c.control("replay_done", map[string]any{"last_id": lastID, "count": 0, "error": "replay unavailable"})
		return
	}
	sent := 0
	for _, m := range msgs {
		lastID = m.ID
		if c.filter.wants(headerOf(m.Payload)) && c.enqueue(m.Payload) {
			sent++
		}
	}
	c.control("replay_done", map[string]any{
		"last_id":   lastID,
		"count":     sent,
		"truncated": len(msgs) == replayLimit,
	})
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if c.filter.apply(msg) {
			c.control("subscribed", c.filter.snapshot())
		}
	}
}

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
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
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
