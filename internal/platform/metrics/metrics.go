package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the aggregation pipeline. All observer
// methods are nil-safe so wiring stays optional in tests.
type Metrics struct {
	// Collector latencies by source
	CollectorDuration *prometheus.HistogramVec

	// Collector terminal outcomes by source and status
	CollectorOutcome *prometheus.CounterVec

	// Full analysis latency including normalization
	AnalyzeDuration prometheus.Histogram

	// Header harvest resource counts
	ResourcesDiscovered prometheus.Counter
	ResourcesReported   prometheus.Counter

	// Response cache lookups by result (hit/miss)
	CacheLookups *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		CollectorDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "urldater_collector_duration_seconds",
			Help:    "Duration of evidence collection by source",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}), // source: "registration", "certificate", "headers"

		CollectorOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "urldater_collector_outcomes_total",
			Help: "Terminal collector outcomes by source and status",
		}, []string{"source", "status"}), // status: "success", "notice", "error"

		AnalyzeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "urldater_analyze_duration_seconds",
			Help:    "Duration of a full analysis request including normalization",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		ResourcesDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "urldater_resources_discovered_total",
			Help: "Media resources discovered on analyzed pages",
		}),

		ResourcesReported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "urldater_resources_reported_total",
			Help: "Media resources with a usable Last-Modified header",
		}),

		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "urldater_cache_lookups_total",
			Help: "Analysis response cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss"
	}
}

// ObserveCollector records the duration and outcome of one collector run.
func (m *Metrics) ObserveCollector(source, status string, d time.Duration) {
	if m != nil {
		m.CollectorDuration.WithLabelValues(source).Observe(d.Seconds())
		m.CollectorOutcome.WithLabelValues(source, status).Inc()
	}
}

// ObserveAnalyze records the total analysis duration.
func (m *Metrics) ObserveAnalyze(d time.Duration) {
	if m != nil {
		m.AnalyzeDuration.Observe(d.Seconds())
	}
}

// AddResourceCounts records discovered vs reported resource counts for one
// harvest.
func (m *Metrics) AddResourceCounts(discovered, reported int) {
	if m != nil {
		m.ResourcesDiscovered.Add(float64(discovered))
		m.ResourcesReported.Add(float64(reported))
	}
}

// IncrementCacheLookup records a cache hit or miss.
func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}
