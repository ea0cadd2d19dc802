package monitor

import "time"

// EventKind identifies a notification emitted by a monitoring session.
type EventKind int

const (
	EventCountChanged EventKind = iota + 1
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventCountChanged:
		return "count_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a count-changed or error notification. Events of one session are
// delivered in the order their ticks complete.
type Event struct {
	Kind    EventKind
	Count   int   // new count, EventCountChanged only
	Err     error // EventError only
	Session string
	Target  string
	At      time.Time
}

// Message returns the error text of an EventError, or "".
func (e Event) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
