package analytics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus metrics of a Sink.
type Metrics struct {
	Operations *prometheus.CounterVec
}

// NewMetrics creates the sink metrics.
func NewMetrics() *Metrics {
	const (
		namespace = "trellis"
		subsystem = "analytics"
	)

	return &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Count of store operations by resource and operation",
		}, []string{"resource", "operation"}),
	}
}

// PrometheusCollectors returns the collectors of the metrics.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Operations,
	}
}
