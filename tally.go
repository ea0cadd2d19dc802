package tally

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/tally/internal/config"
	"github.com/loykin/tally/internal/counter"
	"github.com/loykin/tally/internal/history"
	hfactory "github.com/loykin/tally/internal/history/factory"
	"github.com/loykin/tally/internal/metrics"
	"github.com/loykin/tally/internal/monitor"
	"github.com/loykin/tally/internal/procsnap"
	iapi "github.com/loykin/tally/internal/server"
	"github.com/loykin/tally/internal/store"
	sfactory "github.com/loykin/tally/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Controller = monitor.Controller

type Options = monitor.Config

type Event = monitor.Event

type EventKind = monitor.EventKind

type Status = monitor.Status

type Store = store.Store

type DailyMax = store.DailyMax

type Config = cfg.Config

type Matcher = counter.Matcher

type ProcessRecord = procsnap.Record

type SnapshotProvider = procsnap.Provider

type HistorySink = history.Sink

type Router = iapi.Router

type RouterOptions = iapi.Options

const (
	EventCountChanged = monitor.EventCountChanged
	EventError        = monitor.EventError
)

var (
	ErrTargetNotFound = monitor.ErrTargetNotFound
	ErrStopTimeout    = monitor.ErrStopTimeout
)

// NewController returns a controller with no active session. A nil
// Options.Provider reads the live process table.
func NewController(o Options) *Controller {
	if o.Provider == nil {
		o.Provider = procsnap.System{}
	}
	return monitor.NewController(o)
}

// SystemProvider snapshots the live process table.
func SystemProvider() SnapshotProvider { return procsnap.System{} }

// DefaultMatcher returns the matching rules of the current platform.
func DefaultMatcher() Matcher { return counter.DefaultMatcher() }

// OpenStore opens the store named by dsn (sqlite path, sqlite:// or
// postgres://) and creates its tables.
func OpenStore(ctx context.Context, dsn string) (Store, error) { return sfactory.Open(ctx, dsn) }

// StoreOpener returns an Options.OpenStore that opens a fresh handle on dsn
// for each monitoring session.
func StoreOpener(dsn string) monitor.OpenStoreFunc {
	return func(ctx context.Context) (store.Store, error) { return sfactory.Open(ctx, dsn) }
}

// NewHistorySink selects a history sink from dsn.
func NewHistorySink(dsn string) (HistorySink, error) { return hfactory.NewSinkFromDSN(dsn) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewRouter builds the HTTP API over c and st.
func NewRouter(c *Controller, st Store, basePath string, o RouterOptions) *Router {
	return iapi.NewRouter(c, st, basePath, o)
}

// NewHTTPServer starts an HTTP server exposing r on addr.
func NewHTTPServer(addr string, r *Router) (*http.Server, error) { return iapi.NewServer(addr, r) }

// Serve runs r on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, r *Router) error { return iapi.Serve(ctx, ln, r) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns an unstarted server exposing /metrics from the
// default registry on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
