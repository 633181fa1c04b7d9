package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rconsole"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	envelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "envelopes_total",
			Help:      "Envelopes sent or received.",
		},
		[]string{"role", "direction", "kind", "sub_kind"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Inbound messages that failed to decode.",
		},
		[]string{"role", "reason"},
	)
	droppedEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "dropped_envelopes_total",
			Help:      "Decoded envelopes dropped during routing.",
		},
		[]string{"role", "reason"},
	)
	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handler_failures_total",
			Help:      "Handler errors and recovered panics.",
		},
		[]string{"role", "kind"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply.",
		},
		[]string{"role"},
	)
	pendingExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "pending_expired_total",
			Help:      "Requests dropped after their deadline.",
		},
		[]string{"role"},
	)
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connections_active",
			Help:      "Open connections.",
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			envelopes, decodeErrors, droppedEnvelopes, handlerFailures,
			pendingRequests, pendingExpired, activeConnections,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordEnvelope(role, direction, kind string, subKind uint8) {
	RegisterMetrics()
	envelopes.WithLabelValues(role, direction, kind, strconv.Itoa(int(subKind))).Inc()
}

func RecordDecodeError(role, reason string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(role, reason).Inc()
}

func RecordDropped(role, reason string) {
	RegisterMetrics()
	droppedEnvelopes.WithLabelValues(role, reason).Inc()
}

func RecordHandlerFailure(role, kind string) {
	RegisterMetrics()
	handlerFailures.WithLabelValues(role, kind).Inc()
}

func AddPending(role string, delta int) {
	RegisterMetrics()
	pendingRequests.WithLabelValues(role).Add(float64(delta))
}

func RecordPendingExpired(role string, n int) {
	RegisterMetrics()
	pendingExpired.WithLabelValues(role).Add(float64(n))
}

func AddActiveConnections(role string, delta int) {
	RegisterMetrics()
	activeConnections.WithLabelValues(role).Add(float64(delta))
}
