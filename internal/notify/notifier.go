// Package notify delivers trade and guard events to operator channels.
// Events are dispatched to all registered senders (Telegram, Discord) and can
// be filtered by event type so operators receive only the alerts they care
// about.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one event, rendering it however the channel requires.
	Send(ctx context.Context, evt domain.Event) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches events to one or more Senders. It maintains a set of
// allowed event types; events outside the set are dropped. Delivery failures
// are logged, never propagated, so a dead webhook cannot stall an exit.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// New creates a Notifier that will deliver to the given senders. Only events
// whose type appears in the events slice are forwarded. If events is empty,
// all event types are allowed.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify forwards the event to every sender whose filter admits it.
func (n *Notifier) Notify(ctx context.Context, evt domain.Event) {
	if len(n.events) > 0 && !n.events[evt.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(evt.Type)),
		)
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, evt); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", evt.Title),
		)
	}
}

var _ domain.EventSink = (*Notifier)(nil)
