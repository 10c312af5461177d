package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation metrics through a dedicated
// prometheus registry so multiple services in one process never collide.
type PrometheusMetricsRecorder struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder constructs a recorder with its own registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	registry := prometheus.NewRegistry()
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reservecore",
		Subsystem: "service",
		Name:      "operation_duration_seconds",
		Help:      "Duration of reservation service operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reservecore",
		Subsystem: "service",
		Name:      "operation_results_total",
		Help:      "Count of reservation service operation outcomes by status.",
	}, []string{"operation", "status"})
	registry.MustRegister(durations, results)
	return &PrometheusMetricsRecorder{
		registry:  registry,
		durations: durations,
		results:   results,
	}
}

// Registry exposes the backing registry for HTTP scraping.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe implements the MetricsRecorder interface.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}
