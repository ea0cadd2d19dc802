package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/loykin/tally/internal/counter"
	"github.com/loykin/tally/internal/metrics"
	"github.com/loykin/tally/internal/procsnap"
	"github.com/loykin/tally/internal/store"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultStopTimeout = 3 * time.Second
)

// Clock tags, usable with quartz traps in tests.
const (
	clockTag       = "monitor"
	tagInterval    = "interval"
	tagStopTimeout = "stop"
	tagTick        = "tick"
)

// OpenStoreFunc opens the store connection owned by one monitoring session.
type OpenStoreFunc func(ctx context.Context) (store.Store, error)

// State is the lifecycle state of a Loop.
//
// Idle -> Running -> Stopping -> Stopped
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// LoopOptions configures a single monitoring session.
type LoopOptions struct {
	Target    counter.Target
	Matcher   counter.Matcher
	Provider  procsnap.Provider
	OpenStore OpenStoreFunc
	Interval  time.Duration // between ticks; DefaultInterval when zero
	Clock     quartz.Clock  // quartz.NewReal() when nil
	Logger    *slog.Logger  // slog.Default() when nil
	Notify    func(Event)   // called on the loop goroutine; must not block
}

// Loop polls the process table for one target on a dedicated goroutine.
// The last observed count and the store connection are owned by that
// goroutine; other goroutines learn about counts only through Notify.
type Loop struct {
	opts    LoopOptions
	session string
	log     *slog.Logger

	state     atomic.Int32
	abandoned atomic.Bool
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context // cancelled by Stop; interrupts snapshots only
	cancel    context.CancelFunc
	errLimit  *rate.Limiter
	lastCount int
	lastDay   string
	st        store.Store
}

// NewLoop validates opts and returns an idle loop with a fresh session id.
func NewLoop(opts LoopOptions) (*Loop, error) {
	if opts.Provider == nil {
		return nil, errors.New("monitor: nil snapshot provider")
	}
	if opts.OpenStore == nil {
		return nil, errors.New("monitor: nil store opener")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	session := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		opts:      opts,
		session:   session,
		log:       opts.Logger.With("session", session, "target", opts.Target.Path),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		errLimit:  rate.NewLimiter(rate.Every(time.Minute), 3),
		lastCount: -1,
	}, nil
}

// Session returns the id attached to every event of this loop.
func (l *Loop) Session() string { return l.session }

// Target returns the monitored executable.
func (l *Loop) Target() counter.Target { return l.opts.Target }

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Done is closed once the loop goroutine has exited, or when an idle loop is stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Start checks that the target is an existing file and begins ticking
// immediately. On ErrTargetNotFound the loop stays idle and nothing is emitted.
func (l *Loop) Start() error {
	if l.State() != StateIdle {
		return ErrAlreadyStarted
	}
	fi, err := os.Stat(l.opts.Target.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, l.opts.Target.Path)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrTargetNotFound, l.opts.Target.Path)
	}
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	metrics.IncSession()
	l.log.Info("monitoring started", "interval", l.opts.Interval)
	go l.run(l.ctx)
	return nil
}

// ForcePoll cuts the current wait short so the next tick runs right away.
// It never blocks and never cancels an in-flight tick.
func (l *Loop) ForcePoll() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop requests the loop to exit and waits up to wait (DefaultStopTimeout
// when zero) for it to finish. A snapshot in progress is interrupted, but a
// count already taken is still written. Calling Stop again is a no-op once
// the loop has stopped. On ErrStopTimeout the loop is abandoned: it still exits when
// its tick returns, but its events are discarded.
func (l *Loop) Stop(wait time.Duration) error {
	if l.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		l.stopOnce.Do(func() {
			close(l.stop)
			l.cancel()
			close(l.done)
		})
		return nil
	}
	l.stopOnce.Do(func() {
		l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(l.stop)
		l.cancel()
	})
	if wait <= 0 {
		wait = DefaultStopTimeout
	}
	select {
	case <-l.done:
		return nil
	default:
	}

	t := l.opts.Clock.NewTimer(wait, clockTag, tagStopTimeout)
	defer t.Stop()
	select {
	case <-l.done:
		return nil
	case <-t.C:
		l.abandoned.Store(true)
		l.log.Warn("monitoring loop abandoned", "wait", wait)
		return ErrStopTimeout
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.state.Store(int32(StateStopped))
	defer l.closeStore()

	for {
		if l.stopping() {
			return
		}
		l.tick(ctx)
		if !l.sleep() {
			return
		}
	}
}

// sleep waits for the interval, a force poll or a stop request. It reports
// false when the loop should exit.
func (l *Loop) sleep() bool {
	t := l.opts.Clock.NewTimer(l.opts.Interval, clockTag, tagInterval)
	defer t.Stop()
	select {
	case <-l.stop:
		return false
	case <-l.wake:
	case <-t.C:
	}
	// a stop may race with the wake
	return !l.stopping()
}

func (l *Loop) stopping() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Loop) tick(ctx context.Context) {
	target := l.opts.Target.Path
	start := l.opts.Clock.Now(clockTag, tagTick)
	defer func() {
		metrics.IncTick(target)
		metrics.ObserveTickDuration(target, l.opts.Clock.Now(clockTag, tagTick).Sub(start).Seconds())
	}()

	snap, err := l.opts.Provider.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.fail(&TickError{Kind: KindSnapshot, Err: err})
		return
	}
	n := l.opts.Matcher.Count(l.opts.Target, snap)
	metrics.SetInstances(target, n)
	day := store.Day(start)

	// the write outlives a stop request so the tick can complete
	wctx := context.WithoutCancel(ctx)
	switch {
	case n != l.lastCount:
		// updated before the write so a failing store reports once per change
		l.lastCount = n
		l.lastDay = day
		if err := l.persist(wctx, day, n); err != nil {
			l.fail(&TickError{Kind: KindPersistence, Err: err})
			return
		}
		l.log.Debug("count changed", "count", n, "day", day)
		l.emit(Event{Kind: EventCountChanged, Count: n, At: start})
	case day != l.lastDay:
		l.lastDay = day
		if err := l.persist(wctx, day, n); err != nil {
			l.fail(&TickError{Kind: KindPersistence, Err: err})
		}
	}
}

func (l *Loop) persist(ctx context.Context, day string, n int) error {
	if l.st == nil {
		st, err := l.opts.OpenStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		l.st = st
	}
	return l.st.UpdateDailyMax(ctx, day, n)
}

func (l *Loop) closeStore() {
	if l.st == nil {
		return
	}
	if err := l.st.Close(); err != nil {
		l.log.Warn("close store", "error", err)
	}
	l.st = nil
}

func (l *Loop) fail(err *TickError) {
	metrics.IncTickError(l.opts.Target.Path, err.Kind.String())
	if l.errLimit.Allow() {
		l.log.Warn("tick failed", "kind", err.Kind.String(), "error", err.Err)
	} else {
		l.log.Debug("tick failed", "kind", err.Kind.String(), "error", err.Err)
	}
	l.emit(Event{Kind: EventError, Err: err, At: l.opts.Clock.Now(clockTag, tagTick)})
}

func (l *Loop) emit(e Event) {
	if l.opts.Notify == nil || l.abandoned.Load() {
		return
	}
	e.Session = l.session
	e.Target = l.opts.Target.Path
	l.opts.Notify(e)
}
