// Package metrics provides Prometheus metrics collection for the engine.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global metrics - used by the application
	// Using atomic.Pointer for lock-free initialization checks.
	rotationsTotal    atomic.Pointer[prometheus.CounterVec]
	passDuration      atomic.Pointer[prometheus.Histogram]
	triggerFiresTotal atomic.Pointer[prometheus.CounterVec]
	apiErrorsTotal    atomic.Pointer[prometheus.CounterVec]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	// Rotation counter: tracks every attempted record change by strategy and outcome.
	rotationsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rotodns",
			Subsystem: "engine",
			Name:      "rotations_total",
			Help:      "Total number of DNS record rotations attempted by the engine",
		},
		[]string{"strategy", "outcome"},
	)
	if err := reg.Register(rotationsTotalVec); err != nil {
		return fmt.Errorf("failed to register rotationsTotal: %w", err)
	}

	// Pass duration histogram: tracks how long a full rotation pass takes.
	passDurationHist := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rotodns",
			Subsystem: "engine",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full rotation pass in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	if err := reg.Register(passDurationHist); err != nil {
		return fmt.Errorf("failed to register passDuration: %w", err)
	}

	// Trigger fires counter: one increment per trigger firing.
	triggerFiresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rotodns",
			Subsystem: "engine",
			Name:      "trigger_fires_total",
			Help:      "Total number of usage trigger firings",
		},
		[]string{"trigger"},
	)
	if err := reg.Register(triggerFiresTotalVec); err != nil {
		return fmt.Errorf("failed to register triggerFiresTotal: %w", err)
	}

	// Provider API error counter by kind.
	apiErrorsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rotodns",
			Subsystem: "engine",
			Name:      "api_errors_total",
			Help:      "Total number of DNS provider API errors",
		},
		[]string{"kind"},
	)
	if err := reg.Register(apiErrorsTotalVec); err != nil {
		return fmt.Errorf("failed to register apiErrorsTotal: %w", err)
	}

	// Info gauge: static metric with constant label values for build info
	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rotodns",
			Subsystem: "engine",
			Name:      "info",
			Help:      "Engine version and build information",
		},
		[]string{"version"},
	)
	infoGaugeInstance := infoGaugeVec.WithLabelValues("1.0.0")
	if err := reg.Register(infoGaugeVec); err != nil {
		return fmt.Errorf("failed to register infoGauge: %w", err)
	}
	infoGaugeInstance.Set(1)

	// Store metrics in atomics for lock-free access in record functions
	rotationsTotal.Store(rotationsTotalVec)
	passDuration.Store(&passDurationHist)
	triggerFiresTotal.Store(triggerFiresTotalVec)
	apiErrorsTotal.Store(apiErrorsTotalVec)

	return nil
}

// RecordRotation increments the rotation counter.
// Strategy is "cycle", "shift" or "global"; outcome is "success" or "failure".
func RecordRotation(strategy, outcome string) {
	if counter := rotationsTotal.Load(); counter != nil {
		counter.WithLabelValues(strategy, outcome).Inc()
	}
}

// RecordPassDuration records how long a full rotation pass took, in seconds.
func RecordPassDuration(durationSeconds float64) {
	if hist := passDuration.Load(); hist != nil {
		(*hist).Observe(durationSeconds)
	}
}

// RecordTriggerFire increments the firing counter for a trigger.
func RecordTriggerFire(triggerID string) {
	if counter := triggerFiresTotal.Load(); counter != nil {
		counter.WithLabelValues(triggerID).Inc()
	}
}

// RecordAPIError increments the provider error counter.
// Common kinds: "authentication", "not_found", "api", "network".
func RecordAPIError(kind string) {
	if counter := apiErrorsTotal.Load(); counter != nil {
		counter.WithLabelValues(kind).Inc()
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
// This handler should be registered at /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GetMetricsText returns the Prometheus text-format output from a registry.
// This is useful for testing and debugging.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}

	return string(body), nil
}
