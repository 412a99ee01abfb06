// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
// 同时实现 cache.Observer，可直接挂到 ContextCache 上。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 缓存事件指标
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheHitLatency    prometheus.Histogram
	cacheEvictions     *prometheus.CounterVec
	cacheCompressions  prometheus.Counter
	cacheCompressRatio prometheus.Histogram
	cacheBytes         *prometheus.CounterVec

	// 截断指标
	truncationsTotal  *prometheus.CounterVec
	truncationDropped *prometheus.CounterVec
	truncationTokens  *prometheus.HistogramVec

	namespace  string
	registerer prometheus.Registerer
	logger     *zap.Logger
	mu         sync.Mutex
	sources    map[string]bool
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器，注册到指定 Registerer
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		namespace:  namespace,
		registerer: reg,
		logger:     logger.With(zap.String("component", "metrics")),
		sources:    make(map[string]bool),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 缓存事件指标
	c.cacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of context cache hits",
	})

	c.cacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of context cache misses",
	})

	c.cacheHitLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hit_latency_seconds",
		Help:      "Latency of cache hits including decompression",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	c.cacheEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries removed by the cache, by reason",
		},
		[]string{"reason"},
	)

	c.cacheCompressions = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "compressions_total",
		Help:      "Total number of compressed entries written",
	})

	c.cacheCompressRatio = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "compression_ratio",
		Help:      "Compressed size divided by original size",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	c.cacheBytes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "compression_bytes_total",
			Help:      "Bytes passed through the codec",
		},
		[]string{"type"}, // type: original, compressed
	)

	// 截断指标
	c.truncationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "truncation",
			Name:      "requests_total",
			Help:      "Total number of truncation requests, by outcome",
		},
		[]string{"outcome"}, // outcome: unchanged, dropped, forced, degenerate, overflow
	)

	c.truncationDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "truncation",
			Name:      "dropped_messages_total",
			Help:      "Messages removed by truncation",
		},
		[]string{"kind"}, // kind: other, pair
	)

	c.truncationTokens = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "truncation",
			Name:      "tokens",
			Help:      "Token counts before and after truncation",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 12),
		},
		[]string{"stage"}, // stage: original, final
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 💾 缓存指标记录 (cache.Observer)
// =============================================================================

var _ cache.Observer = (*Collector)(nil)

// ObserveHit 记录缓存命中
func (c *Collector) ObserveHit(latency time.Duration) {
	c.cacheHits.Inc()
	c.cacheHitLatency.Observe(latency.Seconds())
}

// ObserveMiss 记录缓存未命中
func (c *Collector) ObserveMiss() {
	c.cacheMisses.Inc()
}

// ObserveEviction 记录条目被移除的原因
func (c *Collector) ObserveEviction(reason string) {
	c.cacheEvictions.WithLabelValues(reason).Inc()
}

// ObserveCompression 记录一次压缩
func (c *Collector) ObserveCompression(originalSize, compressedSize int) {
	c.cacheCompressions.Inc()
	c.cacheBytes.WithLabelValues("original").Add(float64(originalSize))
	c.cacheBytes.WithLabelValues("compressed").Add(float64(compressedSize))
	if originalSize > 0 {
		c.cacheCompressRatio.Observe(float64(compressedSize) / float64(originalSize))
	}
}

// =============================================================================
// ✂️ 截断指标记录
// =============================================================================

// RecordTruncation 记录一次截断
func (c *Collector) RecordTruncation(report llmcontext.TruncationReport) {
	c.truncationsTotal.WithLabelValues(truncationOutcome(report)).Inc()
	if report.DroppedOther > 0 {
		c.truncationDropped.WithLabelValues("other").Add(float64(report.DroppedOther))
	}
	if report.DroppedPairs > 0 {
		c.truncationDropped.WithLabelValues("pair").Add(float64(report.DroppedPairs * 2))
	}
	c.truncationTokens.WithLabelValues("original").Observe(float64(report.OriginalTokens))
	c.truncationTokens.WithLabelValues("final").Observe(float64(report.FinalTokens))
}

func truncationOutcome(r llmcontext.TruncationReport) string {
	switch {
	case r.Degenerate:
		return "degenerate"
	case r.Overflow:
		return "overflow"
	case r.ForcedTruncation:
		return "forced"
	case r.DroppedOther > 0 || r.DroppedPairs > 0:
		return "dropped"
	default:
		return "unchanged"
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
