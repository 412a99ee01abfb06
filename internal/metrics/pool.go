package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/contextcache/internal/pool"
)

// PoolStatsSource returns a snapshot of an object pool's counters.
type PoolStatsSource func() pool.PoolStats

// poolCollector 在抓取时导出对象池计数与复用率
type poolCollector struct {
	source  PoolStatsSource
	ops     *prometheus.Desc
	hitRate *prometheus.Desc
}

func newPoolCollector(namespace, name string, source PoolStatsSource) *poolCollector {
	labels := prometheus.Labels{"pool": name}
	return &poolCollector{
		source: source,
		ops: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "operations_total"),
			"Object pool operations by kind",
			[]string{"op"}, labels),
		hitRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "hit_ratio"),
			"Share of pool gets served without allocating",
			nil, labels),
	}
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.ops
	ch <- p.hitRate
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	st := p.source()
	counter := func(v int64, op string) {
		ch <- prometheus.MustNewConstMetric(p.ops, prometheus.CounterValue, float64(v), op)
	}
	counter(st.Gets, "get")
	counter(st.Puts, "put")
	counter(st.News, "new")
	counter(st.Resets, "reset")
	ch <- prometheus.MustNewConstMetric(p.hitRate, prometheus.GaugeValue, st.HitRate())
}

// RegisterPoolStats 注册一个对象池，抓取时导出其计数
func (c *Collector) RegisterPoolStats(name string, source PoolStatsSource) error {
	if source == nil {
		return fmt.Errorf("metrics: nil pool source %q", name)
	}
	key := "pool/" + name

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sources[key] {
		return fmt.Errorf("metrics: pool %q already registered", name)
	}
	if err := c.registerer.Register(newPoolCollector(c.namespace, name, source)); err != nil {
		return fmt.Errorf("metrics: register pool %q: %w", name, err)
	}
	c.sources[key] = true
	c.logger.Debug("pool stats registered", zap.String("pool", name))
	return nil
}
