// Package metrics provides Prometheus metrics for the debugging timeline service
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Journal metrics
	JournalOperationsTotal   *prometheus.CounterVec
	JournalOperationDuration *prometheus.HistogramVec

	// Timeline metrics
	StoreOperationsTotal *prometheus.CounterVec
	TimelineVersions     prometheus.Gauge
	TimelineBugFree      prometheus.Gauge

	ServerStartTime time.Time
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}
	factory := promauto.With(reg)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debugtimeline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "debugtimeline_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "debugtimeline_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debugtimeline_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "debugtimeline_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "debugtimeline_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.JournalOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debugtimeline_journal_operations_total",
			Help: "Total number of journal writes",
		},
		[]string{"operation", "status"},
	)

	m.JournalOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "debugtimeline_journal_operation_duration_seconds",
			Help:    "Duration of journal writes in seconds, fsync included",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debugtimeline_store_operations_total",
			Help: "Total number of version store operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.TimelineVersions = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "debugtimeline_timeline_versions",
			Help: "Number of versions in the timeline",
		},
	)

	m.TimelineBugFree = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "debugtimeline_timeline_bug_free_versions",
			Help: "Number of versions marked bug-free",
		},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "debugtimeline_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records a finished HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordJournalOperation records a journal write
func (m *Metrics) RecordJournalOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.JournalOperationsTotal.WithLabelValues(operation, status).Inc()
	m.JournalOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreOperation counts a store operation by outcome
func (m *Metrics) RecordStoreOperation(operation, outcome string) {
	m.StoreOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// UpdateTimelineStats updates the timeline gauges
func (m *Metrics) UpdateTimelineStats(total, bugFree int) {
	m.TimelineVersions.Set(float64(total))
	m.TimelineBugFree.Set(float64(bugFree))
}
