package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

// EventFanout delivers order events to every configured sink. It is itself a
// domain.EventSink so callers can treat the whole set as one.
type EventFanout struct {
	sinks   []domain.EventSink
	timeout time.Duration
	logger  *slog.Logger
}

var _ domain.EventSink = (*EventFanout)(nil)

// NewEventFanout creates a fan-out over sinks. Nil sinks are skipped.
func NewEventFanout(timeout time.Duration, logger *slog.Logger, sinks ...domain.EventSink) *EventFanout {
	active := make([]domain.EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EventFanout{
		sinks:   active,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// Publish sends the event to every sink and joins their errors.
func (f *EventFanout) Publish(ctx context.Context, event domain.OrderEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// PublishAsync publishes in the background. Failures are logged and counted
// and never reach the caller.
func (f *EventFanout) PublishAsync(event domain.OrderEvent) {
	if len(f.sinks) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		if err := f.Publish(ctx, event); err != nil {
			observability.RecordSideEffectFailure("event")
			f.logger.WarnContext(ctx, "event publish failed",
				slog.String("type", string(event.Type)),
				slog.String("order_id", event.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
