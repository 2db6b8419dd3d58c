package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdial_turns_total",
			Help: "Total number of submitted turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentdial_turn_duration_seconds",
			Help:    "Turn duration from submission to settlement",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"mode"},
	)

	// Frame metrics
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdial_frames_total",
			Help: "Total number of received frames by type",
		},
		[]string{"type"},
	)

	// Resolution metrics
	resolveProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdial_resolve_probes_total",
			Help: "Total number of direct-endpoint probes by result",
		},
		[]string{"result"},
	)

	// Recovery metrics
	recoveryPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdial_recovery_polls_total",
			Help: "Total number of recovery poll attempts by result",
		},
		[]string{"result"},
	)

	// Liveness metrics
	watchdogBreachesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentdial_watchdog_breaches_total",
			Help: "Total number of liveness watchdog breaches",
		},
	)

	activeTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentdial_active_turns",
			Help: "Number of turns currently in flight",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			turnsTotal,
			turnDuration,
			framesTotal,
			resolveProbesTotal,
			recoveryPollsTotal,
			watchdogBreachesTotal,
			activeTurns,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records a settled turn.
func RecordTurn(outcome, mode string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFrame records one received frame.
func RecordFrame(frameType string) {
	framesTotal.WithLabelValues(frameType).Inc()
}

// RecordResolveProbe records one direct-endpoint probe.
func RecordResolveProbe(result string) {
	resolveProbesTotal.WithLabelValues(result).Inc()
}

// RecordRecoveryPoll records one recovery poll attempt.
func RecordRecoveryPoll(result string) {
	recoveryPollsTotal.WithLabelValues(result).Inc()
}

// RecordWatchdogBreach records a liveness watchdog breach.
func RecordWatchdogBreach() {
	watchdogBreachesTotal.Inc()
}

// TurnStarted increments the in-flight turn gauge.
func TurnStarted() {
	activeTurns.Inc()
}

// TurnSettled decrements the in-flight turn gauge.
func TurnSettled() {
	activeTurns.Dec()
}
