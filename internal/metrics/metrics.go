// Package metrics exposes Prometheus instrumentation for the user directory.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "userdir"

var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds every collector the application records to.
type Metrics struct {
	registry *prometheus.Registry

	// Directory
	OperationsTotal *prometheus.CounterVec
	Users           prometheus.Gauge
	ActiveUsers     prometheus.Gauge

	// Activity monitor
	MonitorLastRunTime prometheus.Gauge
	MonitorRunDuration prometheus.Histogram
	UsersExpiredTotal  prometheus.Counter

	// Store
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Calculator
	CalculationsTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Directory operations by name and result",
		}, []string{"operation", "result"}),
		Users: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users",
			Help:      "Number of users in the directory",
		}),
		ActiveUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Number of users whose last access is within the activity window",
		}),

		MonitorLastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_last_run_timestamp_seconds",
			Help:      "Unix time of the last activity sweep",
		}),
		MonitorRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_run_duration_seconds",
			Help:      "Duration of activity sweeps",
			Buckets:   latencyBuckets,
		}),
		UsersExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_expired_total",
			Help:      "Users that left the activity window between two sweeps",
		}),

		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of blob store operations",
			Buckets:   latencyBuckets,
		}, []string{"backend", "operation"}),
		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed blob store operations",
		}, []string{"backend", "operation"}),

		CalculationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Calculator evaluations by operation and result",
		}, []string{"operation", "result"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   latencyBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordOperation counts one directory operation.
func (m *Metrics) RecordOperation(operation string, err error) {
	m.OperationsTotal.WithLabelValues(operation, result(err)).Inc()
}

// SetUsers updates the user gauges.
func (m *Metrics) SetUsers(total, active int) {
	m.Users.Set(float64(total))
	m.ActiveUsers.Set(float64(active))
}

// RecordMonitorRun records one activity sweep.
func (m *Metrics) RecordMonitorRun(duration time.Duration, expired int) {
	m.MonitorRunDuration.Observe(duration.Seconds())
	m.UsersExpiredTotal.Add(float64(expired))
	m.MonitorLastRunTime.SetToCurrentTime()
}

// ObserveStore records the latency of a store operation started at start.
func (m *Metrics) ObserveStore(backend, operation string, start time.Time, err error) {
	m.StoreOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(backend, operation).Inc()
	}
}

// RecordCalculation counts one calculator evaluation.
func (m *Metrics) RecordCalculation(operation string, err error) {
	m.CalculationsTotal.WithLabelValues(operation, result(err)).Inc()
}

// ObserveHTTP records the latency of a request started at start.
func (m *Metrics) ObserveHTTP(method, route string, status int, start time.Time) {
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}
