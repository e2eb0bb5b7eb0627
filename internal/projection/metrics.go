package projection

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the consumer's Prometheus instrumentation. Callers register
// it against their own registry (or prometheus.DefaultRegisterer) once per
// process.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	CheckpointLag   *prometheus.GaugeVec
}

// NewMetrics builds the consumer's metric collectors, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventstore_consumer_events_processed_total",
			Help: "Number of events successfully dispatched to a projection handler.",
		}, []string{"partition", "consumer"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventstore_consumer_handler_errors_total",
			Help: "Number of projection handler errors encountered.",
		}, []string{"partition", "consumer"}),
		CheckpointLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventstore_consumer_checkpoint_lag",
			Help: "Difference between a stream's current version and its checkpoint.",
		}, []string{"partition", "consumer"}),
	}
}

// MustRegister registers every collector against reg, panicking on
// duplicate registration (mirrors prometheus.MustRegister's contract).
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.EventsProcessed, m.HandlerErrors, m.CheckpointLag)
}
