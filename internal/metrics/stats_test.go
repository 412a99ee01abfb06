package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contextcache/llm/cache"
)

func TestRegisterStatsSource(t *testing.T) {
	collector, reg := newTestCollector(t)

	stats := cache.Stats{
		Size:                     3,
		MaxSize:                  10,
		HitRatio:                 0.75,
		CompressedEntries:        2,
		OriginalBytes:            4000,
		CompressedBytes:          1000,
		CompressionRatio:         0.25,
		AverageAccessLatency:     2 * time.Millisecond,
		AutoCompressionThreshold: 10240,
		DefaultTTL:               30 * time.Minute,
	}
	require.NoError(t, collector.RegisterStatsSource("context", func() cache.Stats { return stats }))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "type" {
					name += "{" + lp.GetValue() + "}"
				}
			}
			if m.GetGauge() != nil {
				values[name] = m.GetGauge().GetValue()
			}
		}
	}

	ns := collector.namespace
	assert.Equal(t, 3.0, values[ns+"_cache_entries"])
	assert.Equal(t, 10.0, values[ns+"_cache_max_entries"])
	assert.Equal(t, 0.75, values[ns+"_cache_hit_ratio"])
	assert.Equal(t, 2.0, values[ns+"_cache_compressed_entries"])
	assert.Equal(t, 4000.0, values[ns+"_cache_stored_bytes{original}"])
	assert.Equal(t, 1000.0, values[ns+"_cache_stored_bytes{compressed}"])
	assert.InDelta(t, 0.002, values[ns+"_cache_average_access_latency_seconds"], 1e-9)
	assert.Equal(t, 1800.0, values[ns+"_cache_default_ttl_seconds"])
}

func TestRegisterStatsSource_ReadsLiveCache(t *testing.T) {
	collector, _ := newTestCollector(t)
	cfg := cache.DefaultConfig()
	cfg.Pressure.Enabled = false
	cfg.Pressure.UseSystemMemory = false
	c := cache.NewContextCache(cfg, nil)
	defer c.Close()

	sc := newStatsCollector(collector.namespace, "live", c.Stats)
	assert.Equal(t, 10, testutil.CollectAndCount(sc))

	require.NoError(t, c.Set("k", cache.FileMap{"a.ts": "x"}, "", 0))
	assert.Equal(t, 1, c.Stats().Size)
}

func TestRegisterStatsSource_Duplicate(t *testing.T) {
	collector, _ := newTestCollector(t)
	source := func() cache.Stats { return cache.Stats{} }

	require.NoError(t, collector.RegisterStatsSource("a", source))
	assert.Error(t, collector.RegisterStatsSource("a", source))
	assert.Error(t, collector.RegisterStatsSource("b", nil))
}
