package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/contextcache/llm/cache"
)

// StatsSource returns a point-in-time snapshot of a cache.
type StatsSource func() cache.Stats

// statsCollector 在抓取时读取缓存快照并导出为 Gauge
type statsCollector struct {
	source StatsSource
	labels prometheus.Labels

	size             *prometheus.Desc
	maxSize          *prometheus.Desc
	hitRatio         *prometheus.Desc
	compressionRatio *prometheus.Desc
	compressed       *prometheus.Desc
	avgLatency       *prometheus.Desc
	bytes            *prometheus.Desc
	threshold        *prometheus.Desc
	ttl              *prometheus.Desc
}

func newStatsCollector(namespace, name string, source StatsSource) *statsCollector {
	labels := prometheus.Labels{"cache": name}
	desc := func(metric, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", metric), help, variable, labels)
	}
	return &statsCollector{
		source:           source,
		labels:           labels,
		size:             desc("entries", "Number of entries currently cached"),
		maxSize:          desc("max_entries", "Configured entry capacity"),
		hitRatio:         desc("hit_ratio", "Hits divided by lookups since the last clear"),
		compressionRatio: desc("stored_compression_ratio", "Compressed bytes over original bytes of stored entries"),
		compressed:       desc("compressed_entries", "Number of entries stored compressed"),
		avgLatency:       desc("average_access_latency_seconds", "Mean latency of cache hits"),
		bytes:            desc("stored_bytes", "Bytes held by compressed entries", "type"),
		threshold:        desc("auto_compression_threshold_bytes", "Serialized size above which entries are compressed"),
		ttl:              desc("default_ttl_seconds", "Default entry time to live"),
	}
}

func (s *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.size
	ch <- s.maxSize
	ch <- s.hitRatio
	ch <- s.compressionRatio
	ch <- s.compressed
	ch <- s.avgLatency
	ch <- s.bytes
	ch <- s.threshold
	ch <- s.ttl
}

func (s *statsCollector) Collect(ch chan<- prometheus.Metric) {
	st := s.source()
	gauge := func(d *prometheus.Desc, v float64, lv ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, lv...)
	}
	gauge(s.size, float64(st.Size))
	gauge(s.maxSize, float64(st.MaxSize))
	gauge(s.hitRatio, st.HitRatio)
	gauge(s.compressionRatio, st.CompressionRatio)
	gauge(s.compressed, float64(st.CompressedEntries))
	gauge(s.avgLatency, st.AverageAccessLatency.Seconds())
	gauge(s.bytes, float64(st.OriginalBytes), "original")
	gauge(s.bytes, float64(st.CompressedBytes), "compressed")
	gauge(s.threshold, float64(st.AutoCompressionThreshold))
	gauge(s.ttl, st.DefaultTTL.Seconds())
}

// RegisterStatsSource 注册一个缓存快照来源，抓取时导出其 Gauge
// 同名来源只能注册一次。
func (c *Collector) RegisterStatsSource(name string, source StatsSource) error {
	if source == nil {
		return fmt.Errorf("metrics: nil stats source %q", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sources[name] {
		return fmt.Errorf("metrics: stats source %q already registered", name)
	}
	if err := c.registerer.Register(newStatsCollector(c.namespace, name, source)); err != nil {
		return fmt.Errorf("metrics: register stats source %q: %w", name, err)
	}
	c.sources[name] = true
	c.logger.Debug("stats source registered", zap.String("cache", name))
	return nil
}
