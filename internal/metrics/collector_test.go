package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry(nextTestNamespace(), reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.cacheHits)
	assert.NotNil(t, collector.cacheEvictions)
	assert.NotNil(t, collector.truncationsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/api/v1/cache/stats", 200, 100*time.Millisecond, 0, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/cache/stats", 204, 50*time.Millisecond, 0, 0)
	collector.RecordHTTPRequest("DELETE", "/api/v1/cache", 500, time.Millisecond, 0, 64)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/cache/stats", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues("DELETE", "/api/v1/cache", "5xx")))
}

func TestCollector_CacheObserver(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.ObserveHit(2 * time.Millisecond)
	collector.ObserveHit(time.Millisecond)
	collector.ObserveMiss()
	collector.ObserveEviction(cache.EvictLRU)
	collector.ObserveEviction(cache.EvictPressure)
	collector.ObserveEviction(cache.EvictPressure)
	collector.ObserveCompression(1000, 250)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheEvictions.WithLabelValues("lru")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cacheEvictions.WithLabelValues("pressure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheCompressions))
	assert.Equal(t, 1000.0, testutil.ToFloat64(collector.cacheBytes.WithLabelValues("original")))
	assert.Equal(t, 250.0, testutil.ToFloat64(collector.cacheBytes.WithLabelValues("compressed")))
}

func TestCollector_WiredIntoCache(t *testing.T) {
	collector, _ := newTestCollector(t)
	cfg := cache.DefaultConfig()
	cfg.MaxSize = 1
	cfg.Pressure.Enabled = false
	cfg.Pressure.UseSystemMemory = false
	c := cache.NewContextCache(cfg, zap.NewNop(), cache.WithObserver(collector))
	defer c.Close()

	require.NoError(t, c.Set("a", cache.FileMap{"a.go": "package a"}, "", 0))
	require.NoError(t, c.Set("b", cache.FileMap{"b.go": "package b"}, "", 0))
	_, _, ok := c.Get("a")
	assert.False(t, ok)
	_, _, ok = c.Get("b")
	assert.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheEvictions.WithLabelValues(cache.EvictLRU)))
}

func TestCollector_RecordTruncation(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordTruncation(llmcontext.TruncationReport{OriginalTokens: 100, FinalTokens: 100})
	collector.RecordTruncation(llmcontext.TruncationReport{OriginalTokens: 900, FinalTokens: 300, DroppedPairs: 2, DroppedOther: 1})
	collector.RecordTruncation(llmcontext.TruncationReport{OriginalTokens: 900, FinalTokens: 400, ForcedTruncation: true})
	collector.RecordTruncation(llmcontext.TruncationReport{Degenerate: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.truncationsTotal.WithLabelValues("unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.truncationsTotal.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.truncationsTotal.WithLabelValues("forced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.truncationsTotal.WithLabelValues("degenerate")))
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.truncationDropped.WithLabelValues("pair")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.truncationDropped.WithLabelValues("other")))
}

func TestTruncationOutcome(t *testing.T) {
	tests := []struct {
		name   string
		report llmcontext.TruncationReport
		want   string
	}{
		{"unchanged", llmcontext.TruncationReport{}, "unchanged"},
		{"dropped", llmcontext.TruncationReport{DroppedOther: 1}, "dropped"},
		{"forced wins over dropped", llmcontext.TruncationReport{DroppedPairs: 1, ForcedTruncation: true}, "forced"},
		{"overflow wins over forced", llmcontext.TruncationReport{ForcedTruncation: true, Overflow: true}, "overflow"},
		{"degenerate", llmcontext.TruncationReport{Degenerate: true}, "degenerate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncationOutcome(tt.report))
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(201))
	assert.Equal(t, "3xx", statusCode(304))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(0))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 16)
			collector.ObserveHit(time.Microsecond)
			collector.ObserveEviction(cache.EvictExpired)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.cacheHits))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.cacheEvictions.WithLabelValues("expired")))
}
