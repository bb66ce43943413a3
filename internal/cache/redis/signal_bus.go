package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// streamMaxLen caps each event stream via XADD MAXLEN ~. The keeper archives
// older entries to object storage monthly.
const streamMaxLen int64 = 100_000

// subscriberBuffer is how many undelivered events a slow subscriber may lag
// before it starts missing them.
const subscriberBuffer = 256

// SignalBus implements domain.SignalBus: committed sovereign events go out
// on Pub/Sub for live subscribers (the WebSocket hub) and onto a stream for
// replay and archiving.
//
// Stream entries carry the event type and sovereign id next to the payload,
// so an operator can XRANGE the stream without decoding JSON.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload on a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns payloads published on channel until ctx is done, then
// closes the returned channel. A subscriber that falls subscriberBuffer
// events behind misses the overflow rather than stalling the connection;
// it can catch up from the stream.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.c.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	return out, nil
}

// eventHeader is the part of a domain.Event indexed on stream entries.
type eventHeader struct {
	Type        domain.EventType `json:"type"`
	SovereignID uint64           `json:"sovereign_id"`
}

// StreamAppend adds payload to stream, trimming approximately to
// streamMaxLen.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	values := map[string]any{"payload": payload}
	var h eventHeader
	if json.Unmarshal(payload, &h) == nil && h.Type != "" {
		values["type"] = string(h.Type)
		values["sovereign_id"] = h.SovereignID
	}

	args := &redis.XAddArgs{
		Stream: sb.c.key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}
	if err := sb.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries strictly after lastID, oldest
// first. "0" or "" reads from the start. A non-positive count reads
// everything.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if lastID != "" && lastID != "0" && lastID != "0-0" {
		if !validStreamID(lastID) {
			return nil, fmt.Errorf("redis: stream read %s: malformed id %q", stream, lastID)
		}
		start = "(" + lastID
	}

	key := sb.c.key(stream)
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = sb.c.rdb.XRangeN(ctx, key, start, "+", int64(count)).Result()
	} else {
		msgs, err = sb.c.rdb.XRange(ctx, key, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s after %s: %w", stream, lastID, err)
	}

	out := make([]domain.StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		data, ok := streamPayload(m.Values["payload"])
		if !ok {
			continue
		}
		out = append(out, domain.StreamMessage{ID: m.ID, Payload: data})
	}
	return out, nil
}

func streamPayload(v any) ([]byte, bool) {
	switch p := v.(type) {
	case string:
		return []byte(p), true
	case []byte:
		return p, true
	default:
		return nil, false
	}
}

// validStreamID reports whether id has the "<ms>-<seq>" shape Redis
// accepts, so a malformed since= from a client fails fast.
func validStreamID(id string) bool {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return isDigits(id)
	}
	return isDigits(ms) && isDigits(seq)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
