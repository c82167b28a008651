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

	sessionStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "telenotify",
			Subsystem: "session",
			Name:      "starts_total",
			Help:      "Number of supervised commands that were launched.",
		},
	)
	sessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telenotify",
			Subsystem: "session",
			Name:      "outcomes_total",
			Help:      "Number of finished sessions by outcome (succeeded, failed, cancelled, launch_failed).",
		}, []string{"outcome"},
	)
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "telenotify",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Wall time of supervised commands.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telenotify",
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Notifications attempted by kind and result (sent, timeout, error).",
		}, []string{"kind", "result"},
	)
	pings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "telenotify",
			Subsystem: "notifier",
			Name:      "pings_total",
			Help:      "Number of still-running pings emitted.",
		},
	)
	relayedLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telenotify",
			Subsystem: "relay",
			Name:      "lines_total",
			Help:      "Lines forwarded from the child per stream.",
		}, []string{"stream"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telenotify",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Number of session state transitions.",
		}, []string{"from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "telenotify",
			Subsystem: "session",
			Name:      "current_state",
			Help:      "Current session state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sessionStarts, sessionOutcomes, sessionDuration, notifications, pings, relayedLines, stateTransitions, currentStates}
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

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSessionStart() {
	if regOK.Load() {
		sessionStarts.Inc()
	}
}

func IncOutcome(outcome string) {
	if regOK.Load() {
		sessionOutcomes.WithLabelValues(outcome).Inc()
	}
}

func ObserveSessionDuration(seconds float64) {
	if regOK.Load() {
		sessionDuration.Observe(seconds)
	}
}

func IncNotification(kind, result string) {
	if regOK.Load() {
		notifications.WithLabelValues(kind, result).Inc()
	}
}

func IncPing() {
	if regOK.Load() {
		pings.Inc()
	}
}

func AddRelayedLines(stream string, n int) {
	if regOK.Load() && n > 0 {
		relayedLines.WithLabelValues(stream).Add(float64(n))
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentStates.WithLabelValues(state).Set(value)
	}
}
