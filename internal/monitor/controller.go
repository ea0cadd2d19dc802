package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/loykin/tally/internal/counter"
	"github.com/loykin/tally/internal/procsnap"
)

// Config holds the settings shared by every session a Controller starts.
type Config struct {
	Provider    procsnap.Provider
	Matcher     counter.Matcher
	OpenStore   OpenStoreFunc
	Interval    time.Duration
	StopTimeout time.Duration // bounded wait used by Stop and SetTarget
	Clock       quartz.Clock
	Logger      *slog.Logger
}

// Status is what a Controller reports about its active session. The count is
// deliberately absent; it is only published through events.
type Status struct {
	Target  string `json:"target,omitempty"`
	State   State  `json:"state"`
	Session string `json:"session,omitempty"`
}

// Controller owns at most one Loop at a time and fans its events out to
// subscribers. Switching targets stops the previous loop before the next one
// starts, so two sessions never write the same day concurrently.
type Controller struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex // serialises Start, Stop and Shutdown
	loop   *Loop
	closed bool

	active atomic.Pointer[string] // session whose events are published

	subMu  sync.RWMutex
	subs   map[uint64]chan Event // nil after Shutdown
	nextID uint64
}

// NewController returns a controller with no active session.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	return &Controller{
		cfg:  cfg,
		log:  cfg.Logger,
		subs: make(map[uint64]chan Event),
	}
}

// Start begins monitoring path, replacing any active session. It fails with
// ErrTargetNotFound, leaving no session active, when path does not exist.
func (c *Controller) Start(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.stopLocked(); err != nil && !errors.Is(err, ErrStopTimeout) {
		return err
	}

	target, err := counter.NewTarget(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTargetNotFound, err)
	}
	loop, err := NewLoop(LoopOptions{
		Target:    target,
		Matcher:   c.cfg.Matcher,
		Provider:  c.cfg.Provider,
		OpenStore: c.cfg.OpenStore,
		Interval:  c.cfg.Interval,
		Clock:     c.cfg.Clock,
		Logger:    c.cfg.Logger,
		Notify:    c.publish,
	})
	if err != nil {
		return err
	}
	session := loop.Session()
	c.active.Store(&session)
	if err := loop.Start(); err != nil {
		c.active.Store(nil)
		return err
	}
	c.loop = loop
	return nil
}

// SetTarget switches monitoring to path. It is Start under the name the
// presentation layer uses when the user picks a different executable.
func (c *Controller) SetTarget(path string) error { return c.Start(path) }

// Stop ends the active session, waiting at most Config.StopTimeout.
// It is a no-op when nothing is running.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if c.loop == nil {
		return nil
	}
	loop := c.loop
	c.loop = nil
	// events still in flight from this session are dropped from here on
	c.active.Store(nil)
	err := loop.Stop(c.cfg.StopTimeout)
	if err != nil {
		c.log.Warn("stop monitoring", "target", loop.Target().Path, "session", loop.Session(), "error", err)
	}
	return err
}

// ForcePoll makes the active session tick now. No-op without a session.
func (c *Controller) ForcePoll() {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()
	if loop != nil {
		loop.ForcePoll()
	}
}

// Status reports the active session, or StateIdle when there is none.
func (c *Controller) Status() Status {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()
	if loop == nil {
		return Status{State: StateIdle}
	}
	return Status{Target: loop.Target().Path, State: loop.State(), Session: loop.Session()}
}

// Shutdown stops the active session and closes every subscription.
// Calling it more than once is a no-op.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.stopLocked()

	c.subMu.Lock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.subMu.Unlock()
	return err
}

// Subscribe registers a listener with the given channel buffer. Delivery
// never blocks the loop: when the buffer is full the oldest queued event is
// dropped, so a slow subscriber may miss intermediate events but always
// receives the latest one. The returned func unsubscribes and closes the
// channel.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	c.subMu.Lock()
	if c.subs == nil {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Controller) publish(e Event) {
	if cur := c.active.Load(); cur == nil || *cur != e.Session {
		return
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- e:
			continue
		default:
		}
		select {
		case old := <-ch:
			c.log.Debug("subscriber full, oldest event dropped", "kind", old.Kind.String(), "session", old.Session)
		default:
		}
		select {
		case ch <- e:
		default:
			c.log.Debug("subscriber full, event dropped", "kind", e.Kind.String(), "session", e.Session)
		}
	}
}
