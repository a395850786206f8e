// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// Record outcomes.
const (
	OutcomeStored     = "stored"
	OutcomeSinkFailed = "sink_failed"
)

var (
	recordsTotal               *prometheus.CounterVec
	lastCursor                 prometheus.Gauge
	loopState                  *prometheus.GaugeVec
	recoveryState              *prometheus.GaugeVec
	sessionExpiriesTotal       prometheus.Counter
	recoveryAttemptsTotal      prometheus.Counter
	recoveriesTotal            prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	actionDelaySeconds         *prometheus.HistogramVec

	once sync.Once
)

var (
	loopStates = []harvest.LoopState{
		harvest.LoopIdle, harvest.LoopBootstrap, harvest.LoopPositioning,
		harvest.LoopIterating, harvest.LoopDone,
	}
	recoveryStates = []harvest.RecoveryState{
		harvest.RecoveryActive, harvest.RecoveryExpired,
		harvest.RecoveryReauthenticating, harvest.RecoveryResumed,
	}
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		lastCursor = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_last_cursor",
				Help: "Cursor of the most recently processed record.",
			},
		)

		loopState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_loop_state",
				Help: "1 for the crawl loop's current state, 0 otherwise.",
			},
			[]string{"state"},
		)

		recoveryState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_recovery_state",
				Help: "1 for the recovery supervisor's current state, 0 otherwise.",
			},
			[]string{"state"},
		)

		sessionExpiriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_session_expiries_total",
				Help: "Times the session expiry marker was observed.",
			},
		)

		recoveryAttemptsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_recovery_attempts_total",
				Help: "Re-authentication attempts started.",
			},
		)

		recoveriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_recoveries_total",
				Help: "Re-authentications that resumed the crawl.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		actionDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_action_delay_seconds",
				Help:    "Time browser actions waited on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord counts a processed record and moves the cursor gauge.
func ObserveRecord(cursor harvest.Cursor, outcome string) {
	recordsTotal.WithLabelValues(outcome).Inc()
	lastCursor.Set(float64(cursor))
}

// SetLoopState marks state as the current loop state.
func SetLoopState(state harvest.LoopState) {
	for _, s := range loopStates {
		loopState.WithLabelValues(s.String()).Set(boolGauge(s == state))
	}
}

// SetRecoveryState marks state as the current recovery state and counts
// transitions of interest.
func SetRecoveryState(state harvest.RecoveryState) {
	for _, s := range recoveryStates {
		recoveryState.WithLabelValues(s.String()).Set(boolGauge(s == state))
	}
	switch state {
	case harvest.RecoveryExpired:
		sessionExpiriesTotal.Inc()
	case harvest.RecoveryReauthenticating:
		recoveryAttemptsTotal.Inc()
	case harvest.RecoveryResumed:
		recoveriesTotal.Inc()
	case harvest.RecoveryActive:
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveActionDelay records how long an action was held back for host.
func ObserveActionDelay(host string, d time.Duration) {
	actionDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Observer publishes harvest progress to the collectors. Init must have
// been called.
type Observer struct{}

var _ harvest.Observer = Observer{}

// LoopStateChanged implements harvest.Observer.
func (Observer) LoopStateChanged(state harvest.LoopState) {
	SetLoopState(state)
}

// RecoveryStateChanged implements harvest.Observer.
func (Observer) RecoveryStateChanged(state harvest.RecoveryState) {
	SetRecoveryState(state)
}

// RecordProcessed implements harvest.Observer.
func (Observer) RecordProcessed(cursor harvest.Cursor, sinkErr error) {
	outcome := OutcomeStored
	if sinkErr != nil {
		outcome = OutcomeSinkFailed
	}
	ObserveRecord(cursor, outcome)
}
