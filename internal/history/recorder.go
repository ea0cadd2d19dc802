package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/tally/internal/monitor"
)

// sendTimeout bounds a single Send so a slow sink cannot stall the others.
const sendTimeout = 5 * time.Second

// FromMonitor converts a monitor notification into an exported event.
func FromMonitor(e monitor.Event) Event {
	out := Event{
		OccurredAt: e.At.UTC(),
		Session:    e.Session,
		Target:     e.Target,
		Count:      e.Count,
	}
	if e.Kind == monitor.EventError {
		out.Type = EventError
		out.Message = e.Message()
	} else {
		out.Type = EventCountChanged
	}
	return out
}

// Recorder forwards monitor events to sinks.
type Recorder struct {
	sinks []Sink
	log   *slog.Logger
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: append([]Sink(nil), sinks...), log: logger}
}

// Run consumes events until the channel is closed or ctx is done.
// Sink failures are logged and never stop the recorder.
func (r *Recorder) Run(ctx context.Context, events <-chan monitor.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.Record(ctx, FromMonitor(e))
		}
	}
}

// Record sends e to every sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		if err := s.Send(sctx, e); err != nil {
			r.log.Warn("history sink send failed", "type", string(e.Type), "error", err)
		}
		cancel()
	}
}
