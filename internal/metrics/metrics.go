package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resumekit_rag"

// Provider call outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics holds Prometheus collectors for the retrieval engine. All methods are
// safe to call on a nil receiver, which records nothing.
type Metrics struct {
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheSize          prometheus.Gauge
	ProviderCallsTotal *prometheus.CounterVec
	RetrievalsTotal    *prometheus.CounterVec
	BuildDuration      *prometheus.HistogramVec
	IndexedChunks      prometheus.Gauge
	IndexSemantic      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
//
// Metrics:
//   - resumekit_rag_embedding_cache_hits_total
//   - resumekit_rag_embedding_cache_misses_total
//   - resumekit_rag_embedding_cache_size
//   - resumekit_rag_provider_calls_total{outcome}
//   - resumekit_rag_retrievals_total{mode}
//   - resumekit_rag_index_build_duration_seconds{outcome}
//   - resumekit_rag_index_chunks
//   - resumekit_rag_index_semantic
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total number of embedding cache hits",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total number of embedding cache misses",
		}),
		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedding_cache_size",
			Help:      "Number of vectors held by the embedding cache",
		}),
		ProviderCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Embedding provider calls by outcome",
		}, []string{"outcome"}),
		RetrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrievals by ranking mode",
		}, []string{"mode"}),
		BuildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Duration of index builds in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		IndexedChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Number of chunks in the published index",
		}),
		IndexSemantic: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_semantic",
			Help:      "1 when the published index carries vectors, 0 for a metadata-only index",
		}),
	}
}

// RecordCacheLookup adds hit and miss counts of one cache lookup.
func (m *Metrics) RecordCacheLookup(hits, misses int) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Add(float64(hits))
	m.CacheMissesTotal.Add(float64(misses))
}

// SetCacheSize reports the number of cached vectors.
func (m *Metrics) SetCacheSize(n int) {
	if m == nil {
		return
	}
	m.CacheSize.Set(float64(n))
}

// RecordProviderCall counts an embedding provider call.
func (m *Metrics) RecordProviderCall(outcome string) {
	if m == nil {
		return
	}
	m.ProviderCallsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetrieval counts a retrieval served in the given mode.
func (m *Metrics) RecordRetrieval(mode string) {
	if m == nil {
		return
	}
	m.RetrievalsTotal.WithLabelValues(mode).Inc()
}

// RecordBuild observes a finished index build.
func (m *Metrics) RecordBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.BuildDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetIndex reports the shape of the published index.
func (m *Metrics) SetIndex(chunks int, semantic bool) {
	if m == nil {
		return
	}
	m.IndexedChunks.Set(float64(chunks))
	if semantic {
		m.IndexSemantic.Set(1)
		return
	}
	m.IndexSemantic.Set(0)
}
