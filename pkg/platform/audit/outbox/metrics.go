package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox relay.
type Metrics struct {
	Published           prometheus.Counter
	PublishFailures     prometheus.Counter
	CircuitBreakerState prometheus.Gauge
	FlushDuration       prometheus.Histogram
}

// NewMetrics registers the relay metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pmhub_outbox_published_total",
			Help: "Total number of outbox rows published to Kafka",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pmhub_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish batches",
		}),
		CircuitBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pmhub_outbox_circuit_breaker_state",
			Help: "Current relay circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pmhub_outbox_flush_duration_seconds",
			Help:    "Duration of one outbox flush",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) addPublished(n int) {
	if m != nil {
		m.Published.Add(float64(n))
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
		return
	}
	m.CircuitBreakerState.Set(0)
}

func (m *Metrics) observeFlush(seconds float64) {
	if m != nil {
		m.FlushDuration.Observe(seconds)
	}
}
