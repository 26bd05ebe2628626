package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewActivityUpdated(t *testing.T) {
	a := NewActivityUpdated(5, "2025-01-02", "webhook")
	b := NewActivityUpdated(5, "2025-01-02", "webhook")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("Expected unique event ids, got %q and %q", a.ID, b.ID)
	}
	if a.UserID != 5 || a.Date != "2025-01-02" || a.Origin != "webhook" {
		t.Errorf("Unexpected event: %+v", a)
	}
}

func TestBusDelivers(t *testing.T) {
	bus := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ActivityUpdated, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Run(ctx, func(ctx context.Context, ev ActivityUpdated) error {
			got <- ev
			return nil
		})
	}()

	ev := NewActivityUpdated(7, "2025-01-03", "pull")
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	select {
	case received := <-got:
		if received.ID != ev.ID {
			t.Errorf("Expected event %s, got %s", ev.ID, received.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := bus.Publish(ctx, NewActivityUpdated(int64(i), "2025-01-01", "webhook")); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}

	if err := bus.Publish(ctx, NewActivityUpdated(3, "2025-01-01", "webhook")); !errors.Is(err, ErrBusFull) {
		t.Errorf("Expected ErrBusFull, got %v", err)
	}
	if bus.Len() != 2 {
		t.Errorf("Expected 2 buffered events, got %d", bus.Len())
	}
}

func TestBusHandlerErrorContinues(t *testing.T) {
	bus := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan string, 2)
	go bus.Run(ctx, func(ctx context.Context, ev ActivityUpdated) error {
		calls <- ev.Date
		return errors.New("boom")
	})

	bus.Publish(ctx, NewActivityUpdated(1, "2025-01-01", "webhook"))
	bus.Publish(ctx, NewActivityUpdated(1, "2025-01-02", "webhook"))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("Expected both events to be handled")
		}
	}
}
