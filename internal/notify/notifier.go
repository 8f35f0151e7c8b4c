// Package notify pushes order and trading-state events to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Sender delivers one message to a chat channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier is a domain.EventSink that forwards selected event types to every
// sender. An empty filter forwards everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

var _ domain.EventSink = (*Notifier)(nil)

// NewNotifier creates a Notifier for senders, forwarding only events whose
// type is listed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Publish formats the event and sends it when its type passes the filter.
// One failing sender does not stop delivery to the others.
func (n *Notifier) Publish(ctx context.Context, event domain.OrderEvent) error {
	if len(n.events) > 0 && !n.events[event.Type] {
		return nil
	}
	title, message := format(event)

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("type", string(event.Type)),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

func format(event domain.OrderEvent) (string, string) {
	var title string
	switch event.Type {
	case domain.EventOrderConfirmed:
		title = "Order confirmed"
	case domain.EventOrderFailed:
		title = "Order failed"
	case domain.EventOrderCreated:
		title = "Order accepted"
	case domain.EventTradingHalted:
		title = "Trading halted"
	case domain.EventTradingResumed:
		title = "Trading resumed"
	default:
		title = string(event.Type)
	}

	var b strings.Builder
	b.WriteString(event.Summary)
	if event.OrderID != "" {
		fmt.Fprintf(&b, "\norder: %s", event.OrderID)
	}
	if event.Wallet != "" {
		fmt.Fprintf(&b, "\nwallet: %s", event.Wallet)
	}
	if event.Origin != "" {
		fmt.Fprintf(&b, "\norigin: %s", event.Origin)
	}
	return title, b.String()
}
