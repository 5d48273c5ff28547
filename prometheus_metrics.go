package entitygraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements Metrics using client_golang.
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance. If
// registry is nil, a fresh registry is created rather than reaching for
// the global default, so multiple Db instances in the same process
// don't collide on metric registration.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counters[MetricEntitySaves] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "entitygraph", Subsystem: "entity", Name: "saves_total", Help: "Total entity saves"},
		[]string{"store"},
	)
	p.counters[MetricEntityRemoves] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "entitygraph", Subsystem: "entity", Name: "removes_total", Help: "Total entity removals"},
		[]string{"store"},
	)
	p.counters[MetricDeletionApplied] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "entitygraph", Subsystem: "deletion", Name: "applied_total", Help: "Total deletion plans applied"},
		[]string{"store"},
	)
	p.counters[MetricDeletionBlocked] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "entitygraph", Subsystem: "deletion", Name: "blocked_total", Help: "Total deletion plans aborted by a protected reference"},
		[]string{"store"},
	)
	p.histograms[MetricDeletionDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "entitygraph", Subsystem: "deletion", Name: "duration_seconds", Help: "Deletion plan+apply duration", Buckets: prometheus.DefBuckets},
		[]string{"store"},
	)
	p.histograms[MetricQueryDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "entitygraph", Subsystem: "query", Name: "duration_seconds", Help: "Query execution duration", Buckets: prometheus.DefBuckets},
		[]string{"store"},
	)
	p.histograms[MetricQueryResults] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "entitygraph", Subsystem: "query", Name: "results", Help: "Results returned per query", Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}},
		[]string{"store"},
	)
	p.counters[MetricRelationCreated] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "entitygraph", Subsystem: "relation", Name: "created_total", Help: "Total relations created"},
		[]string{"store"},
	)
}

// Increment increments a Prometheus counter, creating a dynamic one
// keyed by tag names if name wasn't pre-registered above.
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{Namespace: "entitygraph", Name: sanitizeMetricName(name), Help: "Dynamic counter: " + name},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	counter.With(p.extractLabelValues(tags)).Inc()
}

func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "entitygraph", Name: sanitizeMetricName(name), Help: "Dynamic gauge: " + name},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	gauge.With(p.extractLabelValues(tags)).Set(value)
}

func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{Namespace: "entitygraph", Name: sanitizeMetricName(name), Help: "Dynamic histogram: " + name, Buckets: prometheus.DefBuckets},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	labels := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	if len(tags) == 0 {
		return prometheus.Labels{}
	}
	labels := make(prometheus.Labels)
	for i := 0; i < len(tags)-1; i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry.
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}
