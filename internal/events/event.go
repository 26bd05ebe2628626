// Package events carries "activity updated" notifications from the write
// paths to background consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueueActivityUpdated is the broker queue for ActivityUpdated events
const QueueActivityUpdated = "activity.updated"

// ActivityUpdated is published after a daily activity row was written
type ActivityUpdated struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Date       string    `json:"date"`
	Origin     string    `json:"origin"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewActivityUpdated builds an event with a fresh id
func NewActivityUpdated(userID int64, date, origin string) ActivityUpdated {
	return ActivityUpdated{
		ID:         uuid.NewString(),
		UserID:     userID,
		Date:       date,
		Origin:     origin,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends events. Publishing is best effort; callers log and
// continue on error.
type Publisher interface {
	Publish(ctx context.Context, ev ActivityUpdated) error
}

// Handler processes one event
type Handler func(ctx context.Context, ev ActivityUpdated) error

// Subscriber delivers events to a handler until ctx is done
type Subscriber interface {
	Run(ctx context.Context, handle Handler) error
}
