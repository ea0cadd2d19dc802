// Package history exports monitoring events to external systems for
// analytics. It is independent of the daily maximum table: sinks only append.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of monitoring event.
type EventType string

const (
	EventCountChanged EventType = "count_changed"
	EventError        EventType = "error"
)

// Event is one exported notification of a monitoring session.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Session    string    `json:"session"`
	Target     string    `json:"target"`
	Count      int       `json:"count"`
	Message    string    `json:"message,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
