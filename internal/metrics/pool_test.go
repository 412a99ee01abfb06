package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contextcache/internal/pool"
	"github.com/BaSui01/contextcache/llm/cache"
)

func TestRegisterPoolStats(t *testing.T) {
	collector, reg := newTestCollector(t)
	ns := collector.namespace

	stats := pool.PoolStats{Gets: 10, Puts: 9, News: 2, Resets: 9}
	require.NoError(t, collector.RegisterPoolStats("byte_buffer", func() pool.PoolStats { return stats }))

	expected := `
# HELP ` + ns + `_pool_hit_ratio Share of pool gets served without allocating
# TYPE ` + ns + `_pool_hit_ratio gauge
` + ns + `_pool_hit_ratio{pool="byte_buffer"} 0.8
# HELP ` + ns + `_pool_operations_total Object pool operations by kind
# TYPE ` + ns + `_pool_operations_total counter
` + ns + `_pool_operations_total{op="get",pool="byte_buffer"} 10
` + ns + `_pool_operations_total{op="new",pool="byte_buffer"} 2
` + ns + `_pool_operations_total{op="put",pool="byte_buffer"} 9
` + ns + `_pool_operations_total{op="reset",pool="byte_buffer"} 9
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		ns+"_pool_hit_ratio", ns+"_pool_operations_total"))
}

func TestRegisterPoolStats_LivePool(t *testing.T) {
	collector, reg := newTestCollector(t)
	p := pool.NewBufferPool(64)
	require.NoError(t, collector.RegisterPoolStats("live", p.Stats))

	b := p.Get()
	p.Put(b)
	_ = p.Get()

	families, err := reg.Gather()
	require.NoError(t, err)
	var gets float64
	for _, mf := range families {
		if mf.GetName() != collector.namespace+"_pool_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "op" && lp.GetValue() == "get" {
					gets = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(2), gets)
}

func TestRegisterPoolStats_Duplicate(t *testing.T) {
	collector, _ := newTestCollector(t)
	source := func() pool.PoolStats { return pool.PoolStats{} }

	require.NoError(t, collector.RegisterPoolStats("a", source))
	assert.Error(t, collector.RegisterPoolStats("a", source))
	assert.Error(t, collector.RegisterPoolStats("b", nil))
	// 与缓存来源同名不冲突
	assert.NoError(t, collector.RegisterStatsSource("a", func() cache.Stats { return cache.Stats{} }))
}
