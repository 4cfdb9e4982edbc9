package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordCacheLookup(3, 2)
	m.SetCacheSize(5)
	m.RecordProviderCall(OutcomeOK)
	m.RecordProviderCall(OutcomeError)
	m.RecordProviderCall(OutcomeError)
	m.RecordRetrieval("degraded")
	m.RecordBuild(time.Second, errors.New("boom"))
	m.SetIndex(42, true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.CacheSize))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderCallsTotal.WithLabelValues(OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalsTotal.WithLabelValues("degraded")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.IndexedChunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexSemantic))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BuildDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordCacheLookup(1, 1)
		m.SetCacheSize(1)
		m.RecordProviderCall(OutcomeSkipped)
		m.RecordRetrieval("semantic")
		m.RecordBuild(time.Millisecond, nil)
		m.SetIndex(1, false)
	})
}
