// Package metrics exposes engine execution metrics through Prometheus,
// with an optional OpenTelemetry bridge so deployments already running
// an OTel collector scrape the same instruments from one registry. All
// methods are nil-safe: a component constructed without metrics calls
// straight through to no-ops.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's instruments, namespaced "workflow".
type Metrics struct {
	inflightNodes prometheus.Gauge
	queueDepth    prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	retries           *prometheus.CounterVec
	routingConflicts  *prometheus.CounterVec
	formatterFailures *prometheus.CounterVec
	backpressure      *prometheus.CounterVec
	executions        *prometheus.CounterVec
}

// New registers the engine instruments with registry (the default
// registerer when nil).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "inflight_nodes",
			Help:      "Nodes currently executing across all executions",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "ready_queue_depth",
			Help:      "Nodes ready for dispatch but waiting for a worker slot",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds, including retries",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node_type", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "node_retries_total",
			Help:      "Node retry attempts after transient failures",
		}, []string{"node_type"}),
		routingConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "routing_conflicts_total",
			Help:      "Target input keys proposed by two or more direct sources",
		}, []string{"target_type"}),
		formatterFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "formatter_failures_total",
			Help:      "Display formatters that panicked and were downgraded to JSON",
		}, []string{"node_type"}),
		backpressure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "event_drops_total",
			Help:      "Events dropped from subscriber buffers under backpressure",
		}, []string{"reason"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "executions_total",
			Help:      "Executions by terminal status",
		}, []string{"status"}),
	}
}

func (m *Metrics) NodeStarted() {
	if m != nil {
		m.inflightNodes.Inc()
	}
}

func (m *Metrics) NodeFinished(nodeType string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m != nil {
		m.queueDepth.Set(float64(depth))
	}
}

func (m *Metrics) Retry(nodeType string) {
	if m != nil {
		m.retries.WithLabelValues(nodeType).Inc()
	}
}

func (m *Metrics) RoutingConflict(targetType string, n int) {
	if m != nil && n > 0 {
		m.routingConflicts.WithLabelValues(targetType).Add(float64(n))
	}
}

func (m *Metrics) FormatterFailure(nodeType string) {
	if m != nil {
		m.formatterFailures.WithLabelValues(nodeType).Inc()
	}
}

func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.backpressure.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ExecutionFinished(status string) {
	if m != nil {
		m.executions.WithLabelValues(status).Inc()
	}
}
