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

	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "reporter",
			Name:      "reports_total",
			Help:      "Status reports by outcome (ok, validation, offline, remote_error).",
		}, []string{"agent", "outcome"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentward",
			Subsystem: "reporter",
			Name:      "consecutive_failures",
			Help:      "Unbroken failed remote writes since the last success.",
		}, []string{"agent"},
	)
	correctionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "monitor",
			Name:      "corrections_total",
			Help:      "Forced status corrections by reason.",
		}, []string{"reason"},
	)
	killsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "monitor",
			Name:      "kills_total",
			Help:      "Processes terminated by the supervisor.",
		}, []string{"agent"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agentward",
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one full supervision cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{reportsTotal, consecutiveFailures, correctionsTotal, killsTotal, cycleDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op if Register
// hasn't been called.

func IncReport(agent, outcome string) {
	if regOK.Load() {
		reportsTotal.WithLabelValues(agent, outcome).Inc()
	}
}

func SetConsecutiveFailures(agent string, n int) {
	if regOK.Load() {
		consecutiveFailures.WithLabelValues(agent).Set(float64(n))
	}
}

func IncCorrection(reason string) {
	if regOK.Load() {
		correctionsTotal.WithLabelValues(reason).Inc()
	}
}

func IncKill(agent string) {
	if regOK.Load() {
		killsTotal.WithLabelValues(agent).Inc()
	}
}

func ObserveCycle(seconds float64) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
	}
}
