// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signal_layer"

// Metrics holds the relay's collectors and the registry they live in.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	signalsEnqueued  *prometheus.CounterVec
	signalsDelivered *prometheus.CounterVec
	signalsReaped    prometheus.Counter
	signalsPurged    prometheus.Counter
	storeErrors      *prometheus.CounterVec

	credentialsIssued *prometheus.CounterVec
	streamSessions    prometheus.Gauge
}

// New creates a Metrics with its own registry. withRuntime adds the process
// and Go runtime collectors, which only the server binary wants.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		signalsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "enqueued_total",
			Help:      "Signals accepted into a mailbox, by type.",
		}, []string{"type"}),
		signalsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "delivered_total",
			Help:      "Signals returned to a poller, by consumption mode and type.",
		}, []string{"mode", "type"}),
		signalsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "reaped_total",
			Help:      "Expired signals deleted by the reaper.",
		}),
		signalsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "purged_total",
			Help:      "Signals deleted by call-end purges.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Signal store failures, by operation.",
		}, []string{"op"}),
		credentialsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "credentials_issued_total",
			Help:      "Hosted-media credential requests, by result.",
		}, []string{"result"}),
		streamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions",
			Help:      "Open WebSocket signal streams.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.signalsEnqueued,
		m.signalsDelivered,
		m.signalsReaped,
		m.signalsPurged,
		m.storeErrors,
		m.credentialsIssued,
		m.streamSessions,
	)
	if withRuntime {
		m.Registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}
	return m
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight marks the start of a request.
func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }

// DecrementInFlight marks the end of a request.
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordEnqueue counts an accepted signal.
func (m *Metrics) RecordEnqueue(signalType string) {
	m.signalsEnqueued.WithLabelValues(signalType).Inc()
}

// RecordDelivery counts a signal returned to a poller.
func (m *Metrics) RecordDelivery(mode, signalType string) {
	m.signalsDelivered.WithLabelValues(mode, signalType).Inc()
}

// RecordReaped counts expired signals removed.
func (m *Metrics) RecordReaped(n int64) {
	if n > 0 {
		m.signalsReaped.Add(float64(n))
	}
}

// RecordPurged counts signals removed by a purge.
func (m *Metrics) RecordPurged(n int64) {
	if n > 0 {
		m.signalsPurged.Add(float64(n))
	}
}

// RecordStoreError counts a failed store operation.
func (m *Metrics) RecordStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// RecordCredential counts a media credential request outcome.
func (m *Metrics) RecordCredential(result string) {
	m.credentialsIssued.WithLabelValues(result).Inc()
}

// StreamOpened and StreamClosed track live WebSocket streams.
func (m *Metrics) StreamOpened() { m.streamSessions.Inc() }

func (m *Metrics) StreamClosed() { m.streamSessions.Dec() }
