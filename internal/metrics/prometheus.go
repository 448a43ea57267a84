// Package metrics defines the Prometheus instrumentation shared by the
// gateway and orchestrator binaries.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metrics container.
type Metrics struct {
	// Gateway request handling
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	ProtocolSwitches  *prometheus.CounterVec

	// Flow control (C6)
	FlowControlStalls  *prometheus.CounterVec
	FlowCreditGranted  *prometheus.CounterVec

	// Backend pool (C7)
	BackendDialsTotal *prometheus.CounterVec
	BackendsActive    *prometheus.GaugeVec

	// Ticket engine (C9)
	TicketOpsTotal   *prometheus.CounterVec
	TicketOpDuration *prometheus.HistogramVec
	OpenTickets      prometheus.Gauge

	// Batch executor (C10)
	BatchesTotal    *prometheus.CounterVec
	BatchDuration   *prometheus.HistogramVec
	RunningBatches  prometheus.Gauge

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics registers and returns the process's metrics container.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of gateway requests by protocol and status",
			},
			[]string{"protocol", "route", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of gateway requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"protocol", "route"},
		),

		RequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_in_flight",
				Help:      "Current number of requests being translated/proxied",
			},
		),

		ProtocolSwitches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "protocol_switches_total",
				Help:      "Total number of connections negotiated per protocol",
			},
			[]string{"protocol"},
		),

		FlowControlStalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "flow_control_stalls_total",
				Help:      "Number of times a stream was stalled waiting on flow-control credit",
			},
			[]string{"direction"},
		),

		FlowCreditGranted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "flow_credit_granted_bytes_total",
				Help:      "Total bytes of flow-control credit granted",
			},
			[]string{"direction"},
		),

		BackendDialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "backend_dials_total",
				Help:      "Total number of backend dial attempts",
			},
			[]string{"route", "status"},
		),

		BackendsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "backends_active",
				Help:      "Current number of open backend channels",
			},
			[]string{"route"},
		),

		TicketOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ticket_operations_total",
				Help:      "Total number of ticket cache operations",
			},
			[]string{"operation", "status"},
		),

		TicketOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ticket_operation_duration_seconds",
				Help:      "Duration of ticket cache operations",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),

		OpenTickets: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "open_tickets",
				Help:      "Current number of open tickets",
			},
		),

		BatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batches_total",
				Help:      "Total number of executed batches",
			},
			[]string{"status"},
		),

		BatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch executions",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"status"},
		),

		RunningBatches: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "running_batches",
				Help:      "Current number of running batch processes",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service build information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the process-wide metrics container, lazily initializing it
// with namespace "tracdap_gateway" and an empty subsystem if InitMetrics
// was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("tracdap_gateway", "")
	}
	return defaultMetrics
}

// RecordRequest records a completed gateway request.
func (m *Metrics) RecordRequest(protocol, route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(protocol, route, status).Inc()
	m.RequestDuration.WithLabelValues(protocol, route).Observe(duration.Seconds())
}

// RecordBackendDial records the outcome of a backend channel dial attempt.
func (m *Metrics) RecordBackendDial(route, status string) {
	m.BackendDialsTotal.WithLabelValues(route, status).Inc()
}

// RecordTicketOp records a ticket cache operation's outcome and latency.
func (m *Metrics) RecordTicketOp(operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.TicketOpsTotal.WithLabelValues(operation, status).Inc()
	m.TicketOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBatch records a completed batch execution's outcome and duration.
func (m *Metrics) RecordBatch(status string, duration time.Duration) {
	m.BatchesTotal.WithLabelValues(status).Inc()
	m.BatchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetServiceInfo publishes the running binary's version and environment.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer runs a blocking HTTP server exposing /metrics and
// /health on the given port.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
