package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tally",
			Subsystem: "monitor",
			Name:      "instances",
			Help:      "Last observed number of top-level instances of the monitored executable.",
		}, []string{"target"},
	)
	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Number of completed poll ticks.",
		}, []string{"target"},
	)
	tickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "monitor",
			Name:      "tick_errors_total",
			Help:      "Number of poll ticks that reported an error, by kind (snapshot, persistence).",
		}, []string{"target", "kind"},
	)
	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tally",
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Time spent taking a snapshot, counting and persisting in one tick.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"target"},
	)
	sessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "monitor",
			Name:      "sessions_total",
			Help:      "Number of monitoring sessions started.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{instances, ticks, tickErrors, tickDuration, sessions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by the monitor to record metrics.
// They no-op if Register hasn't been called.

func SetInstances(target string, n int) {
	if regOK.Load() {
		instances.WithLabelValues(target).Set(float64(n))
	}
}

func IncTick(target string) {
	if regOK.Load() {
		ticks.WithLabelValues(target).Inc()
	}
}

func IncTickError(target, kind string) {
	if regOK.Load() {
		tickErrors.WithLabelValues(target, kind).Inc()
	}
}

func ObserveTickDuration(target string, seconds float64) {
	if regOK.Load() {
		tickDuration.WithLabelValues(target).Observe(seconds)
	}
}

func IncSession() {
	if regOK.Load() {
		sessions.Inc()
	}
}
