package worker

import (
	"context"
	"errors"
	"log/slog"

	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/metrics"
)

// Worker consumes activity events and fans each one out to its handlers
type Worker struct {
	subscriber events.Subscriber
	handlers   []events.Handler
	logger     *slog.Logger
}

// NewWorker creates a new event worker
func NewWorker(subscriber events.Subscriber, handlers ...events.Handler) *Worker {
	return &Worker{
		subscriber: subscriber,
		handlers:   handlers,
		logger:     slog.Default(),
	}
}

// Start processes events until ctx is done
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker", "handlers", len(w.handlers))
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	err := w.subscriber.Run(ctx, w.handle)
	w.logger.Info("Stopping worker")
	return err
}

// handle runs every handler even when an earlier one fails
func (w *Worker) handle(ctx context.Context, ev events.ActivityUpdated) error {
	var errs []error
	for _, h := range w.handlers {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	w.logger.Debug("Processed activity event", "event_id", ev.ID, "user_id", ev.UserID, "date", ev.Date)
	return nil
}
