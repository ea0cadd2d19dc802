package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/tally/internal/monitor"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Send(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *captureSink) got() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestFromMonitor(t *testing.T) {
	at := time.Date(2031, 3, 1, 11, 0, 0, 0, time.FixedZone("X", 3600))
	e := FromMonitor(monitor.Event{Kind: monitor.EventCountChanged, Count: 4, Session: "s", Target: "/opt/app", At: at})
	assert.Equal(t, EventCountChanged, e.Type)
	assert.Equal(t, 4, e.Count)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.True(t, e.OccurredAt.Equal(at))
	assert.Empty(t, e.Message)

	tickErr := &monitor.TickError{Kind: monitor.KindSnapshot, Err: errors.New("denied")}
	e = FromMonitor(monitor.Event{Kind: monitor.EventError, Err: tickErr, Session: "s"})
	assert.Equal(t, EventError, e.Type)
	assert.Equal(t, "snapshot error: denied", e.Message)
}

func TestRecorderForwardsUntilClosed(t *testing.T) {
	good := &captureSink{}
	bad := &captureSink{err: errors.New("down")}
	r := NewRecorder(slog.New(slog.NewTextHandler(io.Discard, nil)), bad, good)

	events := make(chan monitor.Event, 3)
	events <- monitor.Event{Kind: monitor.EventCountChanged, Count: 1, Session: "s"}
	events <- monitor.Event{Kind: monitor.EventError, Err: errors.New("x"), Session: "s"}
	events <- monitor.Event{Kind: monitor.EventCountChanged, Count: 2, Session: "s"}
	close(events)

	require.NoError(t, r.Run(context.Background(), events))
	got := good.got()
	require.Len(t, got, 3, "a failing sink must not block the others")
	assert.Equal(t, []EventType{EventCountChanged, EventError, EventCountChanged},
		[]EventType{got[0].Type, got[1].Type, got[2].Type})
	assert.Len(t, bad.got(), 3)
}

func TestRecorderStopsOnContext(t *testing.T) {
	r := NewRecorder(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan monitor.Event)) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestSQLSinkSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN("sqlite://" + path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, Event{Type: EventCountChanged, OccurredAt: time.Now(), Session: "a", Target: "/x", Count: 1}))
	require.NoError(t, s.Close())

	// reopen: schema creation is idempotent and rows persist
	s, err = NewSQLSinkFromDSN(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Send(ctx, Event{Type: EventError, OccurredAt: time.Now(), Session: "a", Target: "/x", Message: "boom"}))

	n, err := s.CountEvents(ctx, "/x", EventCountChanged)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountEvents(ctx, "/x", EventError)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountEvents(ctx, "/other", EventError)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLSinkEmptyDSN(t *testing.T) {
	_, err := NewSQLSinkFromDSN("  ")
	require.Error(t, err)
}
