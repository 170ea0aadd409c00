package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's Prometheus collectors. A single instance is
// created at boot and passed to the components that record into it.
type Metrics struct {
	JobsSubmitted    *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	ReconcileNoops   prometheus.Counter
	IngestFallbacks  prometheus.Counter
	EventsBroadcast  prometheus.Counter
	ConnectionsOpen  prometheus.Gauge
	ConnectionsDrops prometheus.Counter
}

// NewMetrics registers the service collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_jobs_submitted_total",
			Help: "Generation jobs accepted by a provider.",
		}, []string{"provider"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_jobs_completed_total",
			Help: "Generation jobs that reached the completed state.",
		}, []string{"provider"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_jobs_failed_total",
			Help: "Generation jobs that reached the failed state.",
		}, []string{"provider"}),
		ReconcileNoops: factory.NewCounter(prometheus.CounterOpts{
			Name: "generation_reconcile_noops_total",
			Help: "Completion signals ignored because the job was unknown or already terminal.",
		}),
		IngestFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "generation_ingest_fallbacks_total",
			Help: "Completions that kept the provider URL because ingestion failed.",
		}),
		EventsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_events_broadcast_total",
			Help: "Events delivered to live connections.",
		}),
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notify_connections_open",
			Help: "Live connections currently registered.",
		}),
		ConnectionsDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_connections_dropped_total",
			Help: "Live connections dropped after a failed write.",
		}),
	}
}
