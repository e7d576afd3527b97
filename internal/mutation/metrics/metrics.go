package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the mutation orchestrator.
type Metrics struct {
	// Calls by operation, entity type and outcome code ("ok" on success)
	Mutations *prometheus.CounterVec

	// Call latency by operation
	Duration *prometheus.HistogramVec

	// Rejected conditional writes by entity type
	Conflicts *prometheus.CounterVec

	// Per-id outcomes of bulk status changes
	BulkOutcomes *prometheus.CounterVec

	// Ranks rewritten because a gap was exhausted
	Renumbered *prometheus.CounterVec
}

// New creates and registers the orchestrator metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pmhub_mutations_total",
			Help: "Orchestrator calls by operation, entity type and outcome",
		}, []string{"operation", "entity_type", "outcome"}),

		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pmhub_mutation_duration_seconds",
			Help:    "Duration of orchestrator calls including the unit of work",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		Conflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pmhub_version_conflicts_total",
			Help: "Mutations rejected because the record changed since it was read",
		}, []string{"entity_type"}),

		BulkOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pmhub_bulk_transition_outcomes_total",
			Help: "Per-record outcomes of bulk status changes",
		}, []string{"outcome"}),

		Renumbered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pmhub_rank_renumbered_total",
			Help: "Records whose rank was rewritten by scope renumbering",
		}, []string{"entity_type"}),
	}
}

// ObserveCall records one orchestrator call.
func (m *Metrics) ObserveCall(operation, entityType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(operation, entityType, outcome).Inc()
	m.Duration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrementConflict counts a rejected conditional write.
func (m *Metrics) IncrementConflict(entityType string) {
	if m != nil {
		m.Conflicts.WithLabelValues(entityType).Inc()
	}
}

// IncrementBulkOutcome counts one bulk item.
func (m *Metrics) IncrementBulkOutcome(outcome string) {
	if m != nil {
		m.BulkOutcomes.WithLabelValues(outcome).Inc()
	}
}

// AddRenumbered counts rewritten ranks.
func (m *Metrics) AddRenumbered(entityType string, n int) {
	if m != nil && n > 0 {
		m.Renumbered.WithLabelValues(entityType).Add(float64(n))
	}
}
