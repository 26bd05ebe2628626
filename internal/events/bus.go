package events

import (
	"context"
	"errors"
	"log/slog"

	"livmore-rook-sync/internal/metrics"
)

// ErrBusFull is returned when an event was dropped because the buffer is full
var ErrBusFull = errors.New("event bus full")

// Bus is an in-process Publisher and Subscriber backed by a buffered
// channel. Publish never blocks.
type Bus struct {
	ch     chan ActivityUpdated
	logger *slog.Logger
}

// NewBus creates a bus buffering up to size events
func NewBus(size int) *Bus {
	return &Bus{
		ch:     make(chan ActivityUpdated, max(1, size)),
		logger: slog.Default(),
	}
}

func (b *Bus) Publish(ctx context.Context, ev ActivityUpdated) error {
	select {
	case b.ch <- ev:
		metrics.EventsPublishedTotal.WithLabelValues(metrics.TransportBus, metrics.ResultSuccess).Inc()
		return nil
	default:
		metrics.EventsPublishedTotal.WithLabelValues(metrics.TransportBus, metrics.ResultDropped).Inc()
		return ErrBusFull
	}
}

// Run hands buffered events to handle until ctx is done. Handler errors are
// logged and the event is discarded.
func (b *Bus) Run(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.ch:
			if err := handle(ctx, ev); err != nil {
				b.logger.Warn("Event handler failed", "event_id", ev.ID, "user_id", ev.UserID, "date", ev.Date, "error", err)
			}
		}
	}
}

// Len returns the number of buffered events
func (b *Bus) Len() int {
	return len(b.ch)
}
