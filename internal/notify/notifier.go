// Package notify pages operators about sovereign lifecycle milestones
// through Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// Sender delivers one alert on one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender. When an event allow-list is
// configured, other events are dropped.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithRateLimit caps deliveries per event type to limit per window, so a
// keeper sweep that fails many sovereigns at once sends a bounded burst.
func (n *Notifier) WithRateLimit(rl domain.RateLimiter, limit int, window time.Duration) *Notifier {
	n.limiter, n.limit, n.window = rl, limit, window
	return n
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify delivers the alert if event passes the filter and rate limit.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notifier: event filtered", slog.String("event", event))
		return nil
	}
	if n.limiter != nil && n.limit > 0 {
		ok, err := n.limiter.Allow(ctx, "notify:"+event, n.limit, n.window)
		if err != nil {
			n.logger.WarnContext(ctx, "notifier: rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			n.logger.InfoContext(ctx, "notifier: rate limited", slog.String("event", event))
			return nil
		}
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll bypasses the event filter. Used for startup and shutdown notices.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failing does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
