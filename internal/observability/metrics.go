package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector this module exports: a single
// struct of CounterVec/HistogramVec/GaugeVec fields constructed once via
// promauto and passed around by reference, naming the collectors for
// streaming/persistence concerns.
type Metrics struct {
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderRequestTotal    *prometheus.CounterVec
	ProviderTokensUsed      *prometheus.CounterVec

	ToolExecutionDuration *prometheus.HistogramVec
	ToolExecutionTotal    *prometheus.CounterVec

	BundlerDroppedTotal *prometheus.CounterVec
	BundlerFlushedTotal *prometheus.CounterVec

	MergerStarvationTotal *prometheus.CounterVec

	PersistenceQueueDepth    *prometheus.GaugeVec
	PersistenceWriteDuration *prometheus.HistogramVec
	PersistenceOverflowTotal *prometheus.CounterVec

	ActiveEdgeSessions prometheus.Gauge
}

// NewMetrics registers every collector against reg and returns the
// populated Metrics. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry across packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ProviderRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "roundtable_provider_request_duration_seconds",
			Help: "Duration of a provider adapter stream from request to terminal chunk.",
		}, []string{"provider", "model"}),
		ProviderRequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_provider_requests_total",
			Help: "Total provider adapter stream attempts by outcome.",
		}, []string{"provider", "model", "outcome"}),
		ProviderTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_provider_tokens_total",
			Help: "Prompt and completion tokens reported by provider adapters.",
		}, []string{"provider", "model", "kind"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "roundtable_tool_execution_duration_seconds",
			Help: "Duration of a single tool call.",
		}, []string{"tool"}),
		ToolExecutionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_tool_executions_total",
			Help: "Total tool calls by outcome.",
		}, []string{"tool", "outcome"}),

		BundlerDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_bundler_dropped_total",
			Help: "Client-lane bundles dropped under backpressure.",
		}, []string{"thread_id"}),
		BundlerFlushedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_bundler_flushed_total",
			Help: "Bundles flushed per lane and trigger.",
		}, []string{"lane", "trigger"}),

		MergerStarvationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_merger_starvation_total",
			Help: "Times the fair merger hit a panelist's starvation bound.",
		}, []string{"panelist_id"}),

		PersistenceQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roundtable_persistence_queue_depth",
			Help: "Current depth of the persistence pipeline's write queue.",
		}, []string{}),
		PersistenceWriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "roundtable_persistence_write_duration_seconds",
			Help: "Duration of a single durable chunk write.",
		}, []string{"store"}),
		PersistenceOverflowTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_persistence_overflow_total",
			Help: "Chunks written to the overflow log because the durable store failed.",
		}, []string{}),

		ActiveEdgeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roundtable_active_edge_sessions",
			Help: "Currently open Edge Sessions.",
		}),
	}
}
