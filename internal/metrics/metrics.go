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

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigwatch",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of worker spawns.",
		}, []string{"worker"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigwatch",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of restart requests carried out.",
		}, []string{"worker"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigwatch",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of watchdog exits, labelled by final state.",
		}, []string{"worker", "state"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigwatch",
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between worker states.",
		}, []string{"worker", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rigwatch",
			Subsystem: "worker",
			Name:      "current_state",
			Help:      "Current state of workers (1 = active state, 0 = inactive).",
		}, []string{"worker", "state"},
	)
	pollFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigwatch",
			Subsystem: "stats",
			Name:      "poll_failures_total",
			Help:      "Number of failed status endpoint requests.",
		}, []string{"worker"},
	)
	hashrate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rigwatch",
			Subsystem: "stats",
			Name:      "hashrate",
			Help:      "Most recent hashrate reported by a worker, in H/s.",
		}, []string{"worker"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rigwatch",
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the worker child.",
		}, []string{"worker"},
	)
	rssBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rigwatch",
			Subsystem: "worker",
			Name:      "rss_bytes",
			Help:      "Resident memory of the worker child.",
		}, []string{"worker"},
	)
	xvbDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigwatch",
			Subsystem: "xvb",
			Name:      "decisions_total",
			Help:      "Distribution decisions by run mode and target.",
		}, []string{"mode", "target"},
	)
	xvbSecondsOnXvb = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rigwatch",
			Subsystem: "xvb",
			Name:      "period_seconds_on_xvb",
			Help:      "Seconds of the current decision period allotted to XvB.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerRestarts, workerStops, stateTransitions, currentStates,
		pollFailures, hashrate, cpuPercent, rssBytes, xvbDecisions, xvbSecondsOnXvb,
	}
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
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(worker string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(worker).Inc()
	}
}

func IncRestart(worker string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(worker).Inc()
	}
}

func IncStop(worker, state string) {
	if regOK.Load() {
		workerStops.WithLabelValues(worker, state).Inc()
	}
}

func IncPollFailure(worker string) {
	if regOK.Load() {
		pollFailures.WithLabelValues(worker).Inc()
	}
}

func SetHashrate(worker string, hs float64) {
	if regOK.Load() {
		hashrate.WithLabelValues(worker).Set(hs)
	}
}

func SetResources(worker string, cpu float64, rss uint64) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(worker).Set(cpu)
		rssBytes.WithLabelValues(worker).Set(float64(rss))
	}
}

func IncXvbDecision(mode, target string) {
	if regOK.Load() {
		xvbDecisions.WithLabelValues(mode, target).Inc()
	}
}

func SetXvbSeconds(sec float64) {
	if regOK.Load() {
		xvbSecondsOnXvb.Set(sec)
	}
}

// RecordTransition counts a from->to move and flips the current state gauges.
func RecordTransition(worker, from, to string) {
	if !regOK.Load() || from == to {
		return
	}
	stateTransitions.WithLabelValues(worker, from, to).Inc()
	currentStates.WithLabelValues(worker, from).Set(0)
	currentStates.WithLabelValues(worker, to).Set(1)
}
